package escalate

import (
	"log/slog"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/directory"
	"notifyd/internal/domain"
)

// Planner expands a destination path into absolute-time delivery tasks.
// Params: directory for target resolution and logger.
// Returns: stateless planner rebuilt on config reload.
type Planner struct {
	dir *directory.Directory
	log *slog.Logger
}

// New builds a planner over the current directory.
// Params: resolved directory and logger.
// Returns: planner instance.
func New(dir *directory.Directory, log *slog.Logger) *Planner {
	return &Planner{dir: dir, log: log}
}

// Plan expands one destination path for one notice.
// Params: path definition, owning notice id and queue id, shared parameter
// snapshot, and the notice creation time used as the schedule origin.
// Returns: delivery tasks in declaration order with absolute send times.
// Each escalation step's delay is added before its targets are expanded,
// and a step that yields no tasks still advances the schedule.
func (p *Planner) Plan(path config.PathConfig, noticeID int64, queueID string, noticeParams map[string]string, createdAt time.Time) []domain.DeliveryTask {
	var tasks []domain.DeliveryTask

	stepTime := createdAt.Add(path.InitialDelay.Std())
	tasks = p.appendStep(tasks, path.Target, 0, stepTime, noticeID, queueID, noticeParams)

	for i, step := range path.Escalate {
		stepTime = stepTime.Add(step.Delay.Std())
		tasks = p.appendStep(tasks, step.Target, i+1, stepTime, noticeID, queueID, noticeParams)
	}
	return tasks
}

// appendStep expands the targets of one step at the given step time.
// Params: accumulated tasks, step targets, step index, step send origin,
// notice identity, and shared parameters.
// Returns: tasks with this step's deliveries appended.
func (p *Planner) appendStep(tasks []domain.DeliveryTask, targets []config.TargetConfig, step int, stepTime time.Time, noticeID int64, queueID string, noticeParams map[string]string) []domain.DeliveryTask {
	for _, target := range targets {
		resolution, err := p.dir.Resolve(target.Name, stepTime)
		if err != nil {
			p.log.Warn("skipping unresolvable target",
				"notice", noticeID, "step", step, "target", target.Name, "err", err)
			continue
		}
		if len(resolution.Recipients) == 0 {
			if resolution.Kind == directory.KindGroup {
				p.log.Info("group off duty, skipping step target",
					"notice", noticeID, "step", step, "target", target.Name,
					"next_on_duty", resolution.NextAvailableAt)
			}
			continue
		}

		commands := target.Commands
		if resolution.Kind == directory.KindEmail && len(commands) == 0 {
			commands = []string{p.dir.EmailCommand()}
		}

		for i, recipient := range resolution.Recipients {
			tasks = append(tasks, domain.DeliveryTask{
				NoticeID:   noticeID,
				QueueID:    queueID,
				Step:       step,
				Recipient:  recipient,
				Commands:   commands,
				SendAt:     stepTime.Add(time.Duration(i) * target.Interval.Std()),
				AutoNotify: disposition(target.AutoNotify),
				Params:     noticeParams,
				State:      domain.TaskStateScheduled,
			})
		}
	}
	return tasks
}

// disposition maps the configured auto-notify value onto the task enum.
// Params: configured value.
// Returns: always or never when explicit, conditional otherwise.
func disposition(value string) domain.AutoNotify {
	switch value {
	case "always":
		return domain.AutoNotifyAlways
	case "never":
		return domain.AutoNotifyNever
	default:
		return domain.AutoNotifyConditional
	}
}
