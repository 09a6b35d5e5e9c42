package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"itemuploader/internal/models"
	"itemuploader/internal/proto"
	"itemuploader/internal/runs"
)

const notifyTimeout = 30 * time.Second

// handleEvents records each step event on its run and, once a run has
// finished, asks the notification service to email its summary.
func handleEvents(db *gorm.DB, notifier proto.NotificationServiceClient) func([]byte) {
	return func(data []byte) {
		var ev models.StepEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logrus.WithError(err).Error("Error unmarshaling step event")
			return
		}
		fields := logrus.Fields{"run_id": ev.RunID, "step": ev.Step, "status": ev.Status}
		logrus.WithFields(fields).Info("Received step event")

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := runs.AppendEvent(ctx, db, ev); err != nil {
			logrus.WithError(err).WithFields(fields).Error("Failed to record step event")
			return
		}
		if !ev.Final || ev.NotifyEmail == "" {
			return
		}
		if notifier == nil {
			logrus.WithFields(fields).Warn("Notification service unavailable, summary not sent")
			return
		}

		run, err := runs.Get(ctx, db, ev.RunID)
		if err != nil {
			logrus.WithError(err).WithFields(fields).Error("Failed to load finished run")
			return
		}
		summary, err := summarize(run, ev.NotifyEmail)
		if err != nil {
			logrus.WithError(err).WithFields(fields).Error("Failed to build run summary")
			return
		}
		req, err := proto.EncodeRunSummary(summary)
		if err != nil {
			logrus.WithError(err).WithFields(fields).Error("Failed to encode run summary")
			return
		}

		logrus.WithField("email", ev.NotifyEmail).Info("Sending run summary")
		resp, err := notifier.SendRunSummary(ctx, req)
		switch {
		case err != nil:
			logrus.WithError(err).WithFields(fields).Error("Error sending notification")
		case !resp.GetValue():
			logrus.WithFields(fields).Warn("Notification service could not deliver run summary")
		default:
			logrus.WithFields(fields).Info("Successfully sent notification")
		}
	}
}

func summarize(run *models.PipelineRun, email string) (proto.RunSummary, error) {
	steps, err := runs.DecodeSteps(run)
	if err != nil {
		return proto.RunSummary{}, err
	}
	summary := proto.RunSummary{
		RunID:    run.ID,
		Email:    email,
		ShopCode: run.ShopCode,
		Status:   run.Status,
		Error:    run.Error,
	}
	for _, st := range steps {
		summary.Steps = append(summary.Steps, proto.StepLine{
			Step:       st.Step,
			Title:      st.Title,
			Success:    st.Success,
			Error:      st.Error,
			DurationMs: st.Duration.Milliseconds(),
		})
	}
	return summary, nil
}
