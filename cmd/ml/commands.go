package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"maintline/internal/agent"
	"maintline/internal/app"
	"maintline/internal/domain"
	"maintline/internal/engine"
	"maintline/internal/repo"
)

var errAgentDisabled = errors.New("agent integration is disabled; set agent.chatkit_enabled or MAINTLINE_CHATKIT_ENABLED")

// withActor opens the workspace and resolves --user.
func withActor(ctx context.Context, fn func(context.Context, *app.App, *domain.User) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		actor, err := a.ResolveActor(ctx, viper.GetString("user"))
		if err != nil {
			return err
		}
		return fn(ctx, a, &actor)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func workOrderCmd() *cobra.Command {
	wo := &cobra.Command{Use: "workorder", Aliases: []string{"wo"}, Short: "Work order tools"}
	wo.AddCommand(workOrderListCmd())
	wo.AddCommand(workOrderShowCmd())
	wo.AddCommand(workOrderCreateCmd())
	wo.AddCommand(workOrderStatusCmd())
	wo.AddCommand(workOrderUpdateCmd())
	return wo
}

func workOrderListCmd() *cobra.Command {
	var req engine.SearchRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Search work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				res, err := a.Engine.SearchWorkOrders(ctx, actor, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Code", "Title", "Status", "Priority", "Due", "Asset", "Location"})
				for _, w := range res.Results {
					tw.AppendRow(table.Row{w.ID, w.Code, w.Title, w.Status, w.Priority, formatDate(w.DueDate), w.Asset, w.Location})
				}
				tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d result(s)", res.Total)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&req.Statuses, "status", nil, "status filter (repeatable)")
	cmd.Flags().StringSliceVar(&req.Priorities, "priority", nil, "priority filter (repeatable)")
	cmd.Flags().StringVar(&req.Search, "search", "", "text search")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "max results")
	cmd.Flags().StringVar(&req.DueBefore, "due-before", "", "due before date")
	cmd.Flags().StringVar(&req.DueAfter, "due-after", "", "due after date")
	cmd.Flags().StringVar(&req.SortBy, "sort", "", "sort field (priority, dueDate, createdAt, updatedAt)")
	cmd.Flags().StringVar(&req.SortDirection, "direction", "", "asc or desc")
	return cmd
}

func workOrderShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|code>",
		Short: "Show work order details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				d, err := a.Engine.WorkOrderDetails(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("%s  %s\n", d.Code, d.Title)
				fmt.Printf("status %s, priority %s, due %s\n", d.Status, d.Priority, formatDate(d.DueDate))
				if d.Description != nil {
					fmt.Println(*d.Description)
				}
				if len(d.Tasks) > 0 {
					tw := newTable()
					tw.SetTitle("Tasks")
					tw.AppendHeader(table.Row{"ID", "Label", "Value"})
					for _, t := range d.Tasks {
						value := ""
						if t.TaskValue != nil {
							value = *t.TaskValue
						}
						tw.AppendRow(table.Row{t.ID, t.Label, value})
					}
					tw.Render()
				}
				if len(d.Labor) > 0 {
					tw := newTable()
					tw.SetTitle("Labor")
					tw.AppendHeader(table.Row{"Worker", "Status", "Started", "Seconds"})
					for _, l := range d.Labor {
						tw.AppendRow(table.Row{l.WorkerName, l.Status, l.StartedAt.Format(time.RFC3339), l.DurationSeconds})
					}
					tw.Render()
				}
				tw := newTable()
				tw.SetTitle("History")
				tw.AppendHeader(table.Row{"When", "Who", "Action"})
				for _, h := range d.History {
					tw.AppendRow(table.Row{h.Timestamp.Format(time.RFC3339), h.UserName, h.Action})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func workOrderCreateCmd() *cobra.Command {
	var (
		req              engine.CreateRequest
		locationID       int64
		assetID          int64
		primaryUserID    int64
		requireSignature bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("location-id") {
				req.LocationID = &locationID
			}
			if flags.Changed("asset-id") {
				req.AssetID = &assetID
			}
			if flags.Changed("primary-user-id") {
				req.PrimaryUserID = &primaryUserID
			}
			if flags.Changed("require-signature") {
				req.RequireSignature = &requireSignature
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				res, err := a.Engine.CreateWorkOrder(ctx, actor, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("created %s (id %d): %s\n", res.WorkOrder.Code, res.WorkOrder.ID, res.WorkOrder.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "title")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "NONE, LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&req.DueDate, "due", "", "due date")
	cmd.Flags().StringVar(&req.Code, "code", "", "explicit work order code")
	cmd.Flags().Int64Var(&locationID, "location-id", 0, "location id")
	cmd.Flags().Int64Var(&assetID, "asset-id", 0, "asset id")
	cmd.Flags().Int64Var(&primaryUserID, "primary-user-id", 0, "primary assignee id")
	cmd.Flags().Int64SliceVar(&req.AssignedUserIDs, "assign", nil, "additional assignee ids")
	cmd.Flags().BoolVar(&requireSignature, "require-signature", false, "require a signature to complete")
	return cmd
}

func workOrderStatusCmd() *cobra.Command {
	var (
		notes, reason, feedback string
		signatureFileID         int64
	)
	cmd := &cobra.Command{
		Use:   "status <id|code> <status>",
		Short: "Change work order status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.StatusUpdateRequest{WorkOrderID: args[0], NewStatus: args[1]}
			if notes != "" {
				req.Notes = &notes
			}
			if reason != "" {
				req.ReasonCode = &reason
			}
			if feedback != "" || cmd.Flags().Changed("signature-file-id") {
				req.CompletionData = &engine.CompletionData{}
				if feedback != "" {
					req.CompletionData.Feedback = &feedback
				}
				if cmd.Flags().Changed("signature-file-id") {
					req.CompletionData.SignatureFileID = &signatureFileID
				}
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				res, err := a.Engine.UpdateStatus(ctx, actor, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %s -> %s\n", res.WorkOrder.Code, res.WorkOrder.PreviousStatus, res.WorkOrder.NewStatus)
				for _, action := range res.Actions {
					fmt.Println("  -", action)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "status change notes")
	cmd.Flags().StringVar(&reason, "reason", "", "reason code (required for ON_HOLD)")
	cmd.Flags().StringVar(&feedback, "feedback", "", "completion feedback")
	cmd.Flags().Int64Var(&signatureFileID, "signature-file-id", 0, "signature file id")
	return cmd
}

func workOrderUpdateCmd() *cobra.Command {
	var (
		title, description, priority, due string
		clearFields                       []string
	)
	cmd := &cobra.Command{
		Use:   "update <id|code>",
		Short: "Update work order fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var req engine.UpdateRequest
			if flags.Changed("title") {
				req.Title = engine.Value(title)
			}
			if flags.Changed("description") {
				req.Description = engine.Value(description)
			}
			if flags.Changed("priority") {
				req.Priority = engine.Value(priority)
			}
			if flags.Changed("due") {
				req.DueDate = engine.Value(due)
			}
			for _, field := range clearFields {
				switch strings.TrimSpace(field) {
				case "description":
					req.Description = engine.Null[string]()
				case "due", "dueDate":
					req.DueDate = engine.Null[string]()
				case "location":
					req.LocationID = engine.Null[int64]()
				case "asset":
					req.AssetID = engine.Null[int64]()
				case "team":
					req.TeamID = engine.Null[int64]()
				case "primaryUser":
					req.PrimaryUserID = engine.Null[int64]()
				case "assignees":
					req.AssignedUserIDs = engine.Null[[]int64]()
				default:
					return fmt.Errorf("cannot clear %q", field)
				}
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				res, err := a.Engine.UpdateWorkOrder(ctx, actor, args[0], req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s updated: %s\n", res.WorkOrder.Code, strings.Join(res.UpdatedFields, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&due, "due", "", "new due date")
	cmd.Flags().StringSliceVar(&clearFields, "clear", nil, "fields to clear (description, due, location, asset, team, primaryUser, assignees)")
	return cmd
}

func draftCmd() *cobra.Command {
	d := &cobra.Command{Use: "draft", Short: "Review agent draft actions"}
	d.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				drafts, err := a.Agent.ListPendingDrafts(ctx, actor)
				if err != nil {
					return err
				}
				return printDrafts(drafts)
			})
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "confirm <id>",
		Short: "Apply a pending draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return draftAction(cmd.Context(), args[0], agent.Service.ConfirmDraft)
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "decline <id>",
		Short: "Decline a pending draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return draftAction(cmd.Context(), args[0], agent.Service.DeclineDraft)
		},
	})
	return d
}

func withAgent(ctx context.Context, fn func(context.Context, *app.App, *domain.User) error) error {
	return withActor(ctx, func(ctx context.Context, a *app.App, actor *domain.User) error {
		if !a.Agent.Enabled() {
			return errAgentDisabled
		}
		return fn(ctx, a, actor)
	})
}

func draftAction(ctx context.Context, rawID string, act func(agent.Service, context.Context, *domain.User, int64) (agent.DraftView, error)) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid draft id %q", rawID)
	}
	return withAgent(ctx, func(ctx context.Context, a *app.App, actor *domain.User) error {
		view, err := act(a.Agent, ctx, actor, id)
		if err != nil {
			return err
		}
		return printDrafts([]agent.DraftView{view})
	})
}

func printDrafts(drafts []agent.DraftView) error {
	if viper.GetBool("json") {
		return printJSON(drafts)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Operation", "Status", "Session", "Updated", "Payload"})
	for _, d := range drafts {
		tw.AppendRow(table.Row{d.ID, d.OperationType, d.Status, d.AgentSessionID, d.UpdatedAt.Format(time.RFC3339), d.Payload})
	}
	tw.Render()
	return nil
}

func chatCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Send a prompt to the agent runtime",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				req := agent.PromptRequest{AgentID: agentID, Prompt: strings.Join(args, " ")}
				var (
					res agent.ChatResponse
					err error
				)
				if a.Agent.Enabled() {
					res, err = a.Agent.HandlePrompt(ctx, actor, req)
				} else {
					res = a.Agent.DisabledResponse(req)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("[%s] %s (correlation %s)\n", res.Status, res.Message, res.CorrelationID)
				for _, m := range res.Messages {
					fmt.Printf("%s: %s\n", m.Role, m.Content)
				}
				if len(res.Drafts) > 0 {
					return printDrafts(res.Drafts)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent identifier (default from config)")
	return cmd
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect tool invocation logs"}
	var f repo.InvocationFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent tool invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				logs, err := a.Engine.Repo.ListInvocations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "User", "Tool", "Status", "Results", "Correlation", "Error"})
				for _, l := range logs {
					tw.AppendRow(table.Row{l.ID, l.CreatedAt.Format(time.RFC3339), optionalInt64(l.UserID), l.ToolName, l.Status, optionalInt(l.ResultCount), l.CorrelationID, optionalString(l.ErrorMessage)})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of entries")
	tail.Flags().StringVar(&f.CorrelationID, "correlation-id", "", "correlation id filter")
	tail.Flags().Int64Var(&f.UserID, "user-id", 0, "user id filter")
	audit.AddCommand(tail)
	return audit
}

func optionalString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func optionalInt64(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys of the acting user"}
	keys.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				list, err := a.Engine.Repo.ListAPIKeys(ctx, actor.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created", "Last used", "Revoked"})
				for _, k := range list {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt.Format(time.RFC3339), formatStamp(k.LastUsedAt), formatStamp(k.RevokedAt)})
				}
				tw.Render()
				return nil
			})
		},
	})
	keys.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Issue a new API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				plain, key, err := a.IssueAPIKey(ctx, actor.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "name": key.Name, "key": plain})
				}
				fmt.Printf("key %s (shown once): %s\n", key.ID, plain)
				return nil
			})
		},
	})
	keys.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor *domain.User) error {
				if err := a.RevokeAPIKey(ctx, actor.ID, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return keys
}

func formatStamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
