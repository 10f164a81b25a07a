package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/htareportflow/internal/models"
)

// WorkflowNotifier starts one execution of the summary-mail workflow per enriched document.
type WorkflowNotifier struct {
	client    *executions.Client
	projectID string
	location  string
	workflow  string
	logger    *slog.Logger
}

// NewWorkflowNotifier creates a notifier for projects/<projectID>/locations/<location>/workflows/<workflowID>.
func NewWorkflowNotifier(client *executions.Client, projectID, location, workflowID string, logger *slog.Logger) *WorkflowNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowNotifier{
		client:    client,
		projectID: projectID,
		location:  location,
		workflow:  workflowID,
		logger:    logger,
	}
}

// WorkflowArgument is the JSON argument passed to the workflow.
func WorkflowArgument(doc *models.Document) (string, error) {
	payloadBytes, err := json.Marshal(map[string]interface{}{
		"documentId": doc.ID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return string(payloadBytes), nil
}

// Notify triggers the workflow for doc.
func (n *WorkflowNotifier) Notify(ctx context.Context, doc *models.Document) error {
	argument, err := WorkflowArgument(doc)
	if err != nil {
		return err
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", n.projectID, n.location, n.workflow),
		Execution: &executionspb.Execution{
			Argument: argument,
		},
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	n.logger.Info("Triggered notification workflow.", "documentId", doc.ID, "execution", exec.GetName())
	return nil
}
