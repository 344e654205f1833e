// Package scheduler 周期任务：全局统计对账、清理过期下注意向
package scheduler

import (
	"context"
	"fmt"
	"time"

	"StrikeRate/internal/service"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// Reconciler 统计对账
type Reconciler interface {
	Reconcile(ctx context.Context, repair bool) (*service.ReconcileReport, error)
}

// IntentPurger 清理过期意向
type IntentPurger interface {
	PurgeExpiredIntents(ctx context.Context) (int64, error)
}

// Options 任务间隔，<= 0 表示不注册该任务
type Options struct {
	ReconcileInterval time.Duration
	Repair            bool
	PurgeInterval     time.Duration
	// StartImmediately 启动后立即执行一次
	StartImmediately bool
}

// Scheduler gocron 调度器封装
type Scheduler struct {
	sched  gocron.Scheduler
	logger *logrus.Logger
}

// New 注册任务，调用 Start 后开始执行
func New(opts Options, stats Reconciler, intents IntentPurger, logger *logrus.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, logger: logger}

	if opts.ReconcileInterval > 0 && stats != nil {
		task := func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.ReconcileInterval)
			defer cancel()
			report, err := stats.Reconcile(ctx, opts.Repair)
			if err != nil {
				logger.WithError(err).Error("[Scheduler] 统计对账失败")
				return
			}
			if len(report.Drift) > 0 {
				logger.WithFields(logrus.Fields{"fields": len(report.Drift), "repaired": report.Repaired}).Warn("[Scheduler] 统计对账发现偏差")
			}
		}
		if err := s.add("stats-reconcile", opts.ReconcileInterval, opts.StartImmediately, task); err != nil {
			return nil, err
		}
	}

	if opts.PurgeInterval > 0 && intents != nil {
		task := func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.PurgeInterval)
			defer cancel()
			n, err := intents.PurgeExpiredIntents(ctx)
			if err != nil {
				logger.WithError(err).Error("[Scheduler] 清理过期意向失败")
				return
			}
			if n > 0 {
				logger.WithField("purged", n).Info("[Scheduler] 已清理过期意向")
			}
		}
		if err := s.add("intent-purge", opts.PurgeInterval, opts.StartImmediately, task); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name string, every time.Duration, immediately bool, task func()) error {
	jobOpts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediately {
		jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	if _, err := s.sched.NewJob(gocron.DurationJob(every), gocron.NewTask(task), jobOpts...); err != nil {
		return fmt.Errorf("register job %s: %w", name, err)
	}
	s.logger.WithFields(logrus.Fields{"job": name, "every": every.String()}).Info("[Scheduler] 任务已注册")
	return nil
}

// Jobs 已注册任务名
func (s *Scheduler) Jobs() []string {
	jobs := s.sched.Jobs()
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Name())
	}
	return out
}

func (s *Scheduler) Start() { s.sched.Start() }

// Shutdown 停止调度并等待运行中的任务
func (s *Scheduler) Shutdown() error { return s.sched.Shutdown() }
