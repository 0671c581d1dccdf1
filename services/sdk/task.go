// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// TaskResourceName is the mock key of task calls.
const TaskResourceName = "task"

// TaskURI is the resource that receives shipped bundles.
func TaskURI(appID string) string {
	return "task://" + appID + ".task.default/task"
}

// TaskExecURI is the resource that runs one task.
func TaskExecURI(appID, taskCode string) string {
	return "task://" + appID + ".task.default/exec?code=" + url.QueryEscape(taskCode)
}

// TaskClient ships bundles to and runs tasks on the task backend.
type TaskClient struct {
	client *Client
	appID  string
}

// NewTaskClient uses client's app id unless appID is given.
func NewTaskClient(client *Client, appID string) *TaskClient {
	if appID == "" {
		appID = client.AppID()
	}
	return &TaskClient{client: client, appID: appID}
}

// InitTasks uploads a bundled task module, replacing the previous one.
func (t *TaskClient) InitTasks(ctx context.Context, code []byte) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sdk.InitTasks")
	defer span.End()
	span.SetAttributes(attribute.Int("bundle.bytes", len(code)))

	if t.appID == "" {
		return fmt.Errorf("shipping tasks: app id is not set")
	}
	if _, err := t.client.Invoke(ctx, Call{
		Name:        TaskResourceName,
		ResourceURI: TaskURI(t.appID),
		Action:      ActionCreate,
		Body:        code,
	}); err != nil {
		return fmt.Errorf("shipping tasks: %w", err)
	}

	t.client.options.Logger.Info("tasks shipped",
		slog.String("app_id", t.appID),
		slog.Int("bytes", len(code)),
	)
	return nil
}

// Execute runs taskCode (<module>.<function>) with positional args and
// returns its result.
func (t *TaskClient) Execute(ctx context.Context, taskCode string, args ...any) (json.RawMessage, error) {
	if t.appID == "" {
		return nil, fmt.Errorf("executing %s: app id is not set", taskCode)
	}
	if args == nil {
		args = []any{}
	}
	out, err := t.client.Invoke(ctx, Call{
		Name:        TaskResourceName,
		ResourceURI: TaskExecURI(t.appID, taskCode),
		Action:      ActionCreate,
		Body:        args,
	})
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", taskCode, err)
	}
	return out, nil
}
