package joblogs

import (
	"context"
	"fmt"

	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/storyvault/storyvault/pkg/models"
)

const maxDataValueLen = 1024

// JobLogger writes every entry both to the process log and to the job's
// log table.
type JobLogger struct {
	jobID   int
	service *Service
	log     logger.Logger
	ctx     context.Context
}

func (svc *Service) NewJobLogger(ctx context.Context, jobID int) *JobLogger {
	return &JobLogger{
		jobID:   jobID,
		service: svc,
		log:     logger.FromContext(ctx).Data(logger.Data{"job_id": jobID}),
		ctx:     ctx,
	}
}

func (l *JobLogger) Info(msg string, data logger.Data) {
	l.log.Info(msg, data)
	l.persist(models.JobLogLevelInfo, msg, data, nil)
}

func (l *JobLogger) Warn(msg string, data logger.Data) {
	l.log.Warn(msg, data)
	l.persist(models.JobLogLevelWarn, msg, data, nil)
}

// Error records err verbosely, which includes the stack for errors wrapped
// with errors.WithStack.
func (l *JobLogger) Error(msg string, err error, data logger.Data) {
	l.log.Err(err).Error(msg, data)

	var stack *string
	if err != nil {
		s := fmt.Sprintf("%+v", err)
		stack = &s
	}
	l.persist(models.JobLogLevelError, msg, data, stack)
}

func (l *JobLogger) persist(level, msg string, data logger.Data, stackTrace *string) {
	// story_id has its own column so logs can be filtered by story.
	var storyID *int
	if id, ok := data["story_id"].(int); ok {
		storyID = &id
	}

	var dataStr *string
	if len(data) > 0 {
		truncated := logger.Data{}
		for k, v := range data {
			if k == "story_id" {
				continue
			}
			if s, ok := v.(string); ok && len(s) > maxDataValueLen {
				v = truncateMiddle(s, maxDataValueLen)
			}
			truncated[k] = v
		}
		if len(truncated) > 0 {
			if b, err := json.Marshal(truncated); err == nil {
				s := string(b)
				dataStr = &s
			}
		}
	}

	err := l.service.CreateJobLog(l.ctx, &models.JobLog{
		JobID:      l.jobID,
		Level:      level,
		Message:    msg,
		StoryID:    storyID,
		Data:       dataStr,
		StackTrace: stackTrace,
	})
	if err != nil {
		l.log.Err(err).Warn("persist job log error")
	}
}

func truncateMiddle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	half := (maxLen - 5) / 2
	return s[:half] + " ... " + s[len(s)-half:]
}
