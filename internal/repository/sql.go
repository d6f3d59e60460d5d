package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/gotrs-io/gotrs-caseflow/internal/casenumber"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

//go:embed schema/schema.sql
var schemaSQL string

// Open connects to the configured database. Supported drivers are postgres,
// mysql and sqlite3; mysql DSNs need parseTime=true.
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case "postgres", "mysql", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// SQLStore implements Store on top of sqlx.
type SQLStore struct {
	db      *sqlx.DB
	numbers *casenumber.Sequence
	now     func() time.Time
}

// SQLOption customizes a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLNumbers overrides the case number sequence.
func WithSQLNumbers(seq *casenumber.Sequence) SQLOption {
	return func(s *SQLStore) {
		if seq != nil {
			s.numbers = seq
		}
	}
}

// WithSQLClock overrides the clock used for timestamps.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLStore wraps an open connection.
func NewSQLStore(db *sqlx.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{
		db:      db,
		numbers: casenumber.NewSequence(casenumber.NewDBStore(db, "case")),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Migrate creates the tables used by the store when they are missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ts, blob := "TIMESTAMP", "BLOB"
	switch s.db.DriverName() {
	case "postgres":
		blob = "BYTEA"
	case "mysql":
		ts, blob = "DATETIME(6)", "LONGBLOB"
	}
	ddl := strings.NewReplacer("{{ts}}", ts, "{{blob}}", blob).Replace(schemaSQL)
	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

const emailColumns = `id, message_id, from_address, from_name, to_addresses, reply_to_address, subject, body,
	is_html, status, in_reply_to, references_list, headers, parent_type, parent_id, assigned_user_id,
	account_id, inbound_account_id, created_by_id, date_sent, created_at`

type emailRow struct {
	ID               string       `db:"id"`
	MessageID        string       `db:"message_id"`
	FromAddress      string       `db:"from_address"`
	FromName         string       `db:"from_name"`
	ToAddresses      string       `db:"to_addresses"`
	ReplyToAddress   string       `db:"reply_to_address"`
	Subject          string       `db:"subject"`
	Body             string       `db:"body"`
	IsHTML           bool         `db:"is_html"`
	Status           string       `db:"status"`
	InReplyTo        string       `db:"in_reply_to"`
	References       string       `db:"references_list"`
	Headers          string       `db:"headers"`
	ParentType       string       `db:"parent_type"`
	ParentID         string       `db:"parent_id"`
	AssignedUserID   string       `db:"assigned_user_id"`
	AccountID        string       `db:"account_id"`
	InboundAccountID string       `db:"inbound_account_id"`
	CreatedByID      string       `db:"created_by_id"`
	DateSent         sql.NullTime `db:"date_sent"`
	CreatedAt        time.Time    `db:"created_at"`
}

func (r emailRow) toModel() *models.Email {
	e := &models.Email{
		ID:               r.ID,
		MessageID:        r.MessageID,
		FromAddress:      r.FromAddress,
		FromName:         r.FromName,
		ToAddresses:      splitList(r.ToAddresses),
		ReplyToAddress:   r.ReplyToAddress,
		Subject:          r.Subject,
		Body:             r.Body,
		IsHTML:           r.IsHTML,
		Status:           models.EmailStatus(r.Status),
		InReplyTo:        r.InReplyTo,
		References:       splitList(r.References),
		AssignedUserID:   r.AssignedUserID,
		AccountID:        r.AccountID,
		InboundAccountID: r.InboundAccountID,
		CreatedByID:      r.CreatedByID,
		CreatedAt:        r.CreatedAt,
	}
	if r.ParentType != "" && r.ParentID != "" {
		e.SetParent(models.EntityType(r.ParentType), r.ParentID)
	}
	if r.DateSent.Valid {
		t := r.DateSent.Time
		e.DateSent = &t
	}
	if r.Headers != "" {
		_ = json.Unmarshal([]byte(r.Headers), &e.Headers)
	}
	return e
}

func emailArgs(e *models.Email) []any {
	var parentType, parentID string
	if e.Parent != nil {
		parentType, parentID = string(e.Parent.Type), e.Parent.ID
	}
	var dateSent sql.NullTime
	if e.DateSent != nil {
		dateSent = sql.NullTime{Time: *e.DateSent, Valid: true}
	}
	headers := "{}"
	if len(e.Headers) > 0 {
		if raw, err := json.Marshal(e.Headers); err == nil {
			headers = string(raw)
		}
	}
	return []any{
		e.MessageID, e.FromAddress, e.FromName, strings.Join(e.ToAddresses, ","), e.ReplyToAddress,
		e.Subject, e.Body, e.IsHTML, string(e.Status), e.InReplyTo, strings.Join(e.References, ","),
		headers, parentType, parentID, e.AssignedUserID, e.AccountID, e.InboundAccountID,
		e.CreatedByID, dateSent,
	}
}

// isUniqueViolation recognises duplicate-key errors from every supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *SQLStore) GetEmail(ctx context.Context, id string) (*models.Email, error) {
	var row emailRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+emailColumns+` FROM emails WHERE id = ?`), id); err != nil {
		return nil, notFound(err, "email %s", id)
	}
	return s.withEmailLinks(ctx, row.toModel())
}

func (s *SQLStore) FindEmailByMessageID(ctx context.Context, messageID string) (*models.Email, error) {
	if messageID == "" {
		return nil, fmt.Errorf("email with empty message id: %w", ErrNotFound)
	}
	var row emailRow
	q := s.db.Rebind(`SELECT ` + emailColumns + ` FROM emails WHERE message_id = ? ORDER BY created_at LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, messageID); err != nil {
		return nil, notFound(err, "email with message id %q", messageID)
	}
	return s.withEmailLinks(ctx, row.toModel())
}

func (s *SQLStore) withEmailLinks(ctx context.Context, e *models.Email) (*models.Email, error) {
	if err := s.db.SelectContext(ctx, &e.UserIDs, s.db.Rebind(`SELECT user_id FROM email_user WHERE email_id = ? ORDER BY user_id`), e.ID); err != nil {
		return nil, fmt.Errorf("email %s users: %w", e.ID, err)
	}
	if err := s.db.SelectContext(ctx, &e.TeamIDs, s.db.Rebind(`SELECT team_id FROM email_team WHERE email_id = ? ORDER BY team_id`), e.ID); err != nil {
		return nil, fmt.Errorf("email %s teams: %w", e.ID, err)
	}
	ids, err := s.attachmentIDs(ctx, models.EntityEmail, e.ID)
	if err != nil {
		return nil, err
	}
	e.AttachmentIDs = ids
	return e, nil
}

func (s *SQLStore) attachmentIDs(ctx context.Context, parentType models.EntityType, parentID string) ([]string, error) {
	var ids []string
	q := s.db.Rebind(`SELECT id FROM attachments WHERE parent_type = ? AND parent_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &ids, q, string(parentType), parentID); err != nil {
		return nil, fmt.Errorf("%s %s attachments: %w", parentType, parentID, err)
	}
	return ids, nil
}

func (s *SQLStore) SaveEmail(ctx context.Context, email *models.Email, opts models.SaveOptions) (err error) {
	if email == nil {
		return errors.New("save email: nil email")
	}
	isNew := email.ID == ""
	if isNew {
		email.ID = uuid.NewString()
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = s.now()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save email: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if !isNew {
		var n int
		if err = tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM emails WHERE id = ?`), email.ID); err != nil {
			return fmt.Errorf("save email: %w", err)
		}
		isNew = n == 0
	}
	args := emailArgs(email)
	if isNew && email.MessageID != "" {
		claim := tx.Rebind(`INSERT INTO email_message_ids (message_id, email_id) VALUES (?, ?)`)
		if _, err = tx.ExecContext(ctx, claim, email.MessageID, email.ID); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("save email: %s: %w", email.MessageID, ErrDuplicate)
			}
			return fmt.Errorf("save email %s: claim message id: %w", email.ID, err)
		}
	}
	if isNew {
		q := `INSERT INTO emails (` + emailColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		args = append([]any{email.ID}, append(args, email.CreatedAt)...)
		_, err = tx.ExecContext(ctx, tx.Rebind(q), args...)
	} else {
		q := `UPDATE emails SET message_id = ?, from_address = ?, from_name = ?, to_addresses = ?, reply_to_address = ?,
			subject = ?, body = ?, is_html = ?, status = ?, in_reply_to = ?, references_list = ?, headers = ?,
			parent_type = ?, parent_id = ?, assigned_user_id = ?, account_id = ?, inbound_account_id = ?,
			created_by_id = ?, date_sent = ? WHERE id = ?`
		_, err = tx.ExecContext(ctx, tx.Rebind(q), append(args, email.ID)...)
	}
	if err != nil {
		return fmt.Errorf("save email %s: %w", email.ID, err)
	}
	addresses := make([]string, 0, len(email.ToAddresses))
	for _, addr := range email.ToAddresses {
		addresses = append(addresses, models.NormalizeAddress(addr))
	}
	if err = syncLinks(ctx, tx, "email_to", "email_id", "address_lower", email.ID, addresses, models.SaveOptions{}); err != nil {
		return err
	}
	if err = syncLinks(ctx, tx, "email_user", "email_id", "user_id", email.ID, email.UserIDs, opts); err != nil {
		return err
	}
	if err = syncLinks(ctx, tx, "email_team", "email_id", "team_id", email.ID, email.TeamIDs, opts); err != nil {
		return err
	}
	if err = linkAttachments(ctx, tx, models.EntityEmail, email.ID, email.AttachmentIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// syncLinks writes a link-multiple list. By default the stored rows are
// replaced; SkipLinkMultipleRemove keeps rows missing from ids and
// SkipLinkMultipleUpdate only touches rows that differ.
func syncLinks(ctx context.Context, tx *sqlx.Tx, table, ownerCol, valueCol, ownerID string, ids []string, opts models.SaveOptions) error {
	var existing []string
	sel := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, valueCol, table, ownerCol)
	if err := tx.SelectContext(ctx, &existing, tx.Rebind(sel), ownerID); err != nil {
		return fmt.Errorf("%s: %w", table, err)
	}
	ids = models.UnionIDs(nil, ids...)
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	have := make(map[string]bool, len(existing))
	for _, id := range existing {
		have[id] = true
	}
	switch {
	case !opts.SkipLinkMultipleRemove && !opts.SkipLinkMultipleUpdate:
		del := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, ownerCol)
		if _, err := tx.ExecContext(ctx, tx.Rebind(del), ownerID); err != nil {
			return fmt.Errorf("%s: %w", table, err)
		}
		have = map[string]bool{}
	case !opts.SkipLinkMultipleRemove:
		del := fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND %s = ?`, table, ownerCol, valueCol)
		for _, id := range existing {
			if want[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(del), ownerID, id); err != nil {
				return fmt.Errorf("%s: %w", table, err)
			}
		}
	}
	ins := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (?, ?)`, table, ownerCol, valueCol)
	for _, id := range ids {
		if have[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(ins), ownerID, id); err != nil {
			return fmt.Errorf("%s: %w", table, err)
		}
	}
	return nil
}

func linkAttachments(ctx context.Context, tx *sqlx.Tx, parentType models.EntityType, parentID string, ids []string) error {
	q := tx.Rebind(`UPDATE attachments SET parent_type = ?, parent_id = ? WHERE id = ?`)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, q, string(parentType), parentID, id); err != nil {
			return fmt.Errorf("link attachment %s: %w", id, err)
		}
	}
	return nil
}

func (s *SQLStore) CountSentEmails(ctx context.Context, q SentEmailQuery) (int, error) {
	query := `SELECT COUNT(DISTINCT e.id) FROM emails e
		JOIN email_to t ON t.email_id = e.id
		WHERE t.address_lower = ? AND e.status = ? AND e.date_sent > ?`
	args := []any{models.NormalizeAddress(q.To), string(models.EmailStatusSent), q.Since}
	if q.CreatedByID != "" {
		query += ` AND e.created_by_id = ?`
		args = append(args, q.CreatedByID)
	}
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count sent emails: %w", err)
	}
	return n, nil
}

const caseColumns = `id, number, name, description, status, assigned_user_id, account_id, contact_id,
	lead_id, inbound_email_id, extra, created_at, modified_at`

type caseRow struct {
	ID               string    `db:"id"`
	Number           int64     `db:"number"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	Status           string    `db:"status"`
	AssignedUserID   string    `db:"assigned_user_id"`
	AccountID        string    `db:"account_id"`
	ContactID        string    `db:"contact_id"`
	LeadID           string    `db:"lead_id"`
	InboundAccountID string    `db:"inbound_email_id"`
	Extra            string    `db:"extra"`
	CreatedAt        time.Time `db:"created_at"`
	ModifiedAt       time.Time `db:"modified_at"`
}

func (r caseRow) toModel() *models.Case {
	c := &models.Case{
		ID:               r.ID,
		Number:           r.Number,
		Name:             r.Name,
		Description:      r.Description,
		Status:           models.CaseStatus(r.Status),
		AssignedUserID:   r.AssignedUserID,
		AccountID:        r.AccountID,
		ContactID:        r.ContactID,
		LeadID:           r.LeadID,
		InboundAccountID: r.InboundAccountID,
		CreatedAt:        r.CreatedAt,
		ModifiedAt:       r.ModifiedAt,
	}
	if r.Extra != "" && r.Extra != "{}" {
		_ = json.Unmarshal([]byte(r.Extra), &c.Extra)
	}
	return c
}

func (s *SQLStore) GetCase(ctx context.Context, id string) (*models.Case, error) {
	var row caseRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+caseColumns+` FROM cases WHERE id = ?`), id); err != nil {
		return nil, notFound(err, "case %s", id)
	}
	return s.withCaseLinks(ctx, row.toModel())
}

func (s *SQLStore) FindCaseByNumber(ctx context.Context, number int64) (*models.Case, error) {
	var row caseRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+caseColumns+` FROM cases WHERE number = ?`), number); err != nil {
		return nil, notFound(err, "case number %d", number)
	}
	return s.withCaseLinks(ctx, row.toModel())
}

func (s *SQLStore) withCaseLinks(ctx context.Context, c *models.Case) (*models.Case, error) {
	if err := s.db.SelectContext(ctx, &c.TeamIDs, s.db.Rebind(`SELECT team_id FROM case_team WHERE case_id = ? ORDER BY team_id`), c.ID); err != nil {
		return nil, fmt.Errorf("case %s teams: %w", c.ID, err)
	}
	ids, err := s.attachmentIDs(ctx, models.EntityCase, c.ID)
	if err != nil {
		return nil, err
	}
	c.AttachmentIDs = ids
	return c, nil
}

func (s *SQLStore) SaveCase(ctx context.Context, c *models.Case) (err error) {
	if c == nil {
		return errors.New("save case: nil case")
	}
	if c.Number == 0 {
		if c.Number, err = s.numbers.Next(ctx); err != nil {
			return fmt.Errorf("save case: number: %w", err)
		}
	}
	now := s.now()
	isNew := c.ID == ""
	if isNew {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.ModifiedAt = now
	extra := "{}"
	if len(c.Extra) > 0 {
		raw, merr := json.Marshal(c.Extra)
		if merr != nil {
			return fmt.Errorf("save case: extra: %w", merr)
		}
		extra = string(raw)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save case: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if !isNew {
		var n int
		if err = tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM cases WHERE id = ?`), c.ID); err != nil {
			return fmt.Errorf("save case: %w", err)
		}
		isNew = n == 0
	}
	if isNew {
		q := `INSERT INTO cases (` + caseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, tx.Rebind(q), c.ID, c.Number, c.Name, c.Description, string(c.Status),
			c.AssignedUserID, c.AccountID, c.ContactID, c.LeadID, c.InboundAccountID, extra, c.CreatedAt, c.ModifiedAt)
	} else {
		q := `UPDATE cases SET number = ?, name = ?, description = ?, status = ?, assigned_user_id = ?, account_id = ?,
			contact_id = ?, lead_id = ?, inbound_email_id = ?, extra = ?, modified_at = ? WHERE id = ?`
		_, err = tx.ExecContext(ctx, tx.Rebind(q), c.Number, c.Name, c.Description, string(c.Status),
			c.AssignedUserID, c.AccountID, c.ContactID, c.LeadID, c.InboundAccountID, extra, c.ModifiedAt, c.ID)
	}
	if err != nil {
		return fmt.Errorf("save case %s: %w", c.ID, err)
	}
	if err = syncLinks(ctx, tx, "case_team", "case_id", "team_id", c.ID, c.TeamIDs, models.SaveOptions{}); err != nil {
		return err
	}
	if err = linkAttachments(ctx, tx, models.EntityCase, c.ID, c.AttachmentIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) CountOpenCases(ctx context.Context, userID string) (int, error) {
	statuses := make([]string, 0, len(models.OpenCaseStatuses))
	for _, st := range models.OpenCaseStatuses {
		statuses = append(statuses, string(st))
	}
	q, args, err := sqlx.In(`SELECT COUNT(*) FROM cases WHERE assigned_user_id = ? AND status IN (?)`, userID, statuses)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(q), args...); err != nil {
		return 0, fmt.Errorf("count open cases for %s: %w", userID, err)
	}
	return n, nil
}

func (s *SQLStore) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	var t models.Team
	if err := s.db.GetContext(ctx, &t, s.db.Rebind(`SELECT id, name FROM teams WHERE id = ?`), id); err != nil {
		return nil, notFound(err, "team %s", id)
	}
	return &t, nil
}

func (s *SQLStore) TeamMembers(ctx context.Context, teamID string) ([]models.TeamMember, error) {
	var members []models.TeamMember
	q := s.db.Rebind(`SELECT team_id, user_id, role FROM team_user WHERE team_id = ? ORDER BY user_id`)
	if err := s.db.SelectContext(ctx, &members, q, teamID); err != nil {
		return nil, fmt.Errorf("team %s members: %w", teamID, err)
	}
	return members, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	q := s.db.Rebind(`SELECT id, user_name, name, email_address, active, is_portal FROM users WHERE id = ?`)
	if err := s.db.GetContext(ctx, &u, q, id); err != nil {
		return nil, notFound(err, "user %s", id)
	}
	return &u, nil
}

func (s *SQLStore) emailAddresses(ctx context.Context, entityType models.EntityType, id string) ([]string, error) {
	var out []string
	q := s.db.Rebind(`SELECT address_lower FROM entity_email_address WHERE entity_type = ? AND entity_id = ? ORDER BY address_lower`)
	if err := s.db.SelectContext(ctx, &out, q, string(entityType), id); err != nil {
		return nil, fmt.Errorf("%s %s addresses: %w", entityType, id, err)
	}
	return out, nil
}

func (s *SQLStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	q := s.db.Rebind(`SELECT id, first_name, last_name, name, account_id FROM contacts WHERE id = ?`)
	if err := s.db.GetContext(ctx, &c, q, id); err != nil {
		return nil, notFound(err, "contact %s", id)
	}
	addrs, err := s.emailAddresses(ctx, models.EntityContact, c.ID)
	if err != nil {
		return nil, err
	}
	c.EmailAddresses = addrs
	return &c, nil
}

func (s *SQLStore) FindContactByEmail(ctx context.Context, address string) (*models.Contact, error) {
	var id string
	q := s.db.Rebind(`SELECT entity_id FROM entity_email_address WHERE entity_type = ? AND address_lower = ? ORDER BY entity_id LIMIT 1`)
	if err := s.db.GetContext(ctx, &id, q, string(models.EntityContact), models.NormalizeAddress(address)); err != nil {
		return nil, notFound(err, "contact %s", address)
	}
	return s.GetContact(ctx, id)
}

func (s *SQLStore) FindLeadByEmail(ctx context.Context, address string) (*models.Lead, error) {
	var id string
	q := s.db.Rebind(`SELECT entity_id FROM entity_email_address WHERE entity_type = ? AND address_lower = ? ORDER BY entity_id LIMIT 1`)
	if err := s.db.GetContext(ctx, &id, q, string(models.EntityLead), models.NormalizeAddress(address)); err != nil {
		return nil, notFound(err, "lead %s", address)
	}
	var l models.Lead
	if err := s.db.GetContext(ctx, &l, s.db.Rebind(`SELECT id, name FROM leads WHERE id = ?`), id); err != nil {
		return nil, notFound(err, "lead %s", id)
	}
	addrs, err := s.emailAddresses(ctx, models.EntityLead, l.ID)
	if err != nil {
		return nil, err
	}
	l.EmailAddresses = addrs
	return &l, nil
}

func (s *SQLStore) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	var a models.Attachment
	q := s.db.Rebind(`SELECT id, name, type, size, role, parent_type, parent_id, source_id, contents FROM attachments WHERE id = ?`)
	if err := s.db.GetContext(ctx, &a, q, id); err != nil {
		return nil, notFound(err, "attachment %s", id)
	}
	return &a, nil
}

func (s *SQLStore) SaveAttachment(ctx context.Context, att *models.Attachment) error {
	if att == nil {
		return errors.New("save attachment: nil attachment")
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.Size == 0 {
		att.Size = int64(len(att.Contents))
	}
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM attachments WHERE id = ?`), att.ID); err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	var err error
	if n == 0 {
		q := `INSERT INTO attachments (id, name, type, size, role, parent_type, parent_id, source_id, contents)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = s.db.ExecContext(ctx, s.db.Rebind(q), att.ID, att.Name, att.Type, att.Size, att.Role,
			string(att.ParentType), att.ParentID, att.SourceID, att.Contents)
	} else {
		q := `UPDATE attachments SET name = ?, type = ?, size = ?, role = ?, parent_type = ?, parent_id = ?,
			source_id = ?, contents = ? WHERE id = ?`
		_, err = s.db.ExecContext(ctx, s.db.Rebind(q), att.Name, att.Type, att.Size, att.Role,
			string(att.ParentType), att.ParentID, att.SourceID, att.Contents, att.ID)
	}
	if err != nil {
		return fmt.Errorf("save attachment %s: %w", att.ID, err)
	}
	return nil
}

func (s *SQLStore) CopyAttachment(ctx context.Context, id string, parent *models.ParentLink) (*models.Attachment, error) {
	src, err := s.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := copyOf(src, parent)
	if err := s.SaveAttachment(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *SQLStore) GetEmailTemplate(ctx context.Context, id string) (*models.EmailTemplate, error) {
	var t models.EmailTemplate
	q := s.db.Rebind(`SELECT id, name, subject, body, is_html FROM email_templates WHERE id = ?`)
	if err := s.db.GetContext(ctx, &t, q, id); err != nil {
		return nil, notFound(err, "email template %s", id)
	}
	ids, err := s.attachmentIDs(ctx, models.EntityEmailTemplate, t.ID)
	if err != nil {
		return nil, err
	}
	t.AttachmentIDs = ids
	return &t, nil
}

func (s *SQLStore) SaveNote(ctx context.Context, note *models.Note) error {
	if note == nil {
		return errors.New("save note: nil note")
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = s.now()
	}
	data := "{}"
	if len(note.Data) > 0 {
		raw, err := json.Marshal(note.Data)
		if err != nil {
			return fmt.Errorf("save note: data: %w", err)
		}
		data = string(raw)
	}
	q := `INSERT INTO notes (id, type, parent_type, parent_id, related_id, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), note.ID, string(note.Type), string(note.Parent.Type),
		note.Parent.ID, note.EmailID, data, note.CreatedAt); err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}

type noteRow struct {
	ID         string    `db:"id"`
	Type       string    `db:"type"`
	ParentType string    `db:"parent_type"`
	ParentID   string    `db:"parent_id"`
	RelatedID  string    `db:"related_id"`
	Data       string    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
}

func (s *SQLStore) ListNotes(ctx context.Context, parent models.ParentLink) ([]models.Note, error) {
	var rows []noteRow
	q := s.db.Rebind(`SELECT id, type, parent_type, parent_id, related_id, data, created_at FROM notes
		WHERE parent_type = ? AND parent_id = ? ORDER BY created_at`)
	if err := s.db.SelectContext(ctx, &rows, q, string(parent.Type), parent.ID); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	notes := make([]models.Note, 0, len(rows))
	for _, r := range rows {
		n := models.Note{
			ID:        r.ID,
			Type:      models.NoteType(r.Type),
			Parent:    models.ParentLink{Type: models.EntityType(r.ParentType), ID: r.ParentID},
			EmailID:   r.RelatedID,
			CreatedAt: r.CreatedAt,
		}
		if r.Data != "" && r.Data != "{}" {
			_ = json.Unmarshal([]byte(r.Data), &n.Data)
		}
		notes = append(notes, n)
	}
	return notes, nil
}

var parentTables = map[models.EntityType]string{
	models.EntityCase:    "cases",
	models.EntityContact: "contacts",
	models.EntityLead:    "leads",
	models.EntityEmail:   "emails",
}

func (s *SQLStore) ParentExists(ctx context.Context, link models.ParentLink) (bool, error) {
	table, ok := parentTables[link.Type]
	if !ok || link.ID == "" {
		return false, nil
	}
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), link.ID); err != nil {
		return false, fmt.Errorf("parent %s %s: %w", link.Type, link.ID, err)
	}
	return n > 0, nil
}
