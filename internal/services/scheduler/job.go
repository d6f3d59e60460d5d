package scheduler

import "time"

const (
	emailPollSlug    = "email-ingest"
	emailPollHandler = "email.poll"

	defaultPollSchedule = "*/2 * * * *"
	defaultMaxAccounts  = 5
	defaultPollWorkers  = 2
)

// Job is a cron-scheduled unit of work.
type Job struct {
	Name         string
	Slug         string
	Handler      string
	Schedule     string
	Timeout      time.Duration
	RunOnStartup bool

	// MaxAccounts and Workers bound a mailbox poll run.
	MaxAccounts int
	Workers     int
}

// Run is the outcome of the most recent execution of a job.
type Run struct {
	Started  time.Time
	Finished time.Time
	Err      string
	// Next is zero when the job has no further cron entry.
	Next time.Time
}

func (r Run) OK() bool { return r.Err == "" }

func (r Run) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// EmailPollJob describes the mailbox poller. Non-positive limits fall back to
// five accounts per run and two workers.
func EmailPollJob(schedule string, maxAccounts, workers int) Job {
	if schedule == "" {
		schedule = defaultPollSchedule
	}
	if maxAccounts <= 0 {
		maxAccounts = defaultMaxAccounts
	}
	if workers <= 0 {
		workers = defaultPollWorkers
	}
	return Job{
		Name:        "Email Account Poller",
		Slug:        emailPollSlug,
		Handler:     emailPollHandler,
		Schedule:    schedule,
		Timeout:     5 * time.Minute,
		MaxAccounts: maxAccounts,
		Workers:     workers,
	}
}
