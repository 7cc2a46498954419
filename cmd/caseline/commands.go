package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
)

func printConfirmation(c engine.Confirmation) {
	if viper.GetBool("json") {
		return
	}
	switch c.State {
	case engine.Confirmed:
		fmt.Printf("ledger: confirmed (tx %s)\n", c.TxID)
	case engine.Unconfirmed:
		fmt.Printf("ledger: unconfirmed (%s: %s)\n", c.Kind, c.Reason)
	default:
		fmt.Println("ledger: skipped")
	}
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Register and verify actors"}
	cmd.AddCommand(actorRegisterCmd())
	cmd.AddCommand(actorPendingCmd())
	cmd.AddCommand(actorShowCmd())
	cmd.AddCommand(actorVerifyCmd())
	cmd.AddCommand(actorDocumentCmd())
	return cmd
}

func actorRegisterCmd() *cobra.Command {
	var opts engine.RegisterOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a wallet as a pending actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor, conf, err := a.Engine.RegisterActor(ctx, opts)
				if err != nil {
					return err
				}
				printConfirmation(conf)
				return printJSONOrTable(actor)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "wallet address")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "contact phone")
	cmd.Flags().StringArrayVar(&opts.DocumentRefs, "doc", nil, "identity document content id (repeatable)")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func actorPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List actors awaiting verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				if _, err := a.Engine.Authorize(ctx, id, auth.PermActorReadPending); err != nil {
					return err
				}
				actors, err := a.Engine.ListPending(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Wallet", "Name", "Documents", "Registered"})
				for _, actor := range actors {
					tw.AppendRow(table.Row{actor.ID, actor.Wallet, actor.Name, len(actor.DocumentRefs), actor.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func actorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <wallet|actor-id>",
		Short: "Show an actor and its caseworker profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, ok := domain.NormalizeWallet(args[0]); ok {
					found, ok, err := a.Engine.ResolveActor(ctx, args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("wallet %s is not registered", args[0])
					}
					return printJSONOrTable(found)
				}
				found, err := a.Engine.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(found)
			})
		},
	}
}

func actorVerifyCmd() *cobra.Command {
	var reject bool
	cmd := &cobra.Command{
		Use:   "verify <actor-id>",
		Short: "Verify (or --reject) a pending actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.VerificationVerified
			if reject {
				status = domain.VerificationRejected
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				actor, conf, err := a.Engine.SetVerification(ctx, id, args[0], status)
				if err != nil {
					return err
				}
				printConfirmation(conf)
				return printJSONOrTable(actor)
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of verify")
	return cmd
}

func actorDocumentCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "add-document <file>",
		Short: "Upload an identity document and attach it to an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				target := actorID
				if target == "" {
					target = id
				}
				cid, name, err := upload(ctx, a, args[0])
				if err != nil {
					return err
				}
				actor, err := a.Engine.AddActorDocument(ctx, id, target, cid, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(actor)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "target actor id (defaults to the acting actor)")
	return cmd
}

func caseworkerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "caseworker", Short: "Manage caseworkers"}
	cmd.AddCommand(caseworkerCreateCmd())
	cmd.AddCommand(caseworkerListCmd())
	return cmd
}

func caseworkerCreateCmd() *cobra.Command {
	var opts engine.CaseworkerOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a caseworker profile (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				opts.ActingID = id
				cw, conf, err := a.Engine.CreateCaseworker(ctx, opts)
				if err != nil {
					return err
				}
				printConfirmation(conf)
				return printJSONOrTable(cw)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ActorID, "actor", "", "existing actor id")
	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "wallet address (registered when unknown)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "caseworker name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&opts.Badge, "badge", "", "badge number")
	cmd.Flags().StringVar(&opts.Department, "department", "", "department")
	_ = cmd.MarkFlagRequired("badge")
	return cmd
}

func caseworkerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List caseworkers with case counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				if _, err := a.Engine.Authorize(ctx, id, auth.PermCaseworkerRead); err != nil {
					return err
				}
				items, err := a.Engine.ListCaseworkers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Badge", "Name", "Department", "Wallet", "Active", "Closed"})
				for _, cw := range items {
					tw.AppendRow(table.Row{cw.Caseworker.ID, cw.Caseworker.Badge, cw.Caseworker.Name, cw.Caseworker.Department, cw.Actor.Wallet, cw.ActiveCases, cw.ClosedCases})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func caseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "case", Short: "File and work cases"}
	cmd.AddCommand(caseFileCmd())
	cmd.AddCommand(caseListCmd())
	cmd.AddCommand(caseShowCmd())
	cmd.AddCommand(caseAssignCmd())
	cmd.AddCommand(caseStatusCmd())
	cmd.AddCommand(caseEvidenceCmd())
	return cmd
}

func caseFileCmd() *cobra.Command {
	var opts engine.FileCaseOptions
	var incidentAt string
	cmd := &cobra.Command{
		Use:   "file",
		Short: "File a case as the acting submitter",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := time.Parse(time.RFC3339, incidentAt)
			if err != nil {
				return fmt.Errorf("--incident-at must be RFC3339: %w", err)
			}
			opts.IncidentAt = at
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				opts.ActorID = id
				c, conf, err := a.Engine.FileCase(ctx, opts)
				if err != nil {
					return err
				}
				printConfirmation(conf)
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Category, "category", "", "case category")
	cmd.Flags().StringVar(&incidentAt, "incident-at", "", "incident time (RFC3339)")
	cmd.Flags().StringVar(&opts.Location, "location", "", "incident location")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what happened")
	cmd.Flags().StringArrayVar(&opts.EvidenceRefs, "evidence", nil, "evidence content id (repeatable)")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("incident-at")
	return cmd
}

func caseListCmd() *cobra.Command {
	var scope, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases visible to the acting actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				filter, err := a.Engine.CaseScope(ctx, id, scope)
				if err != nil {
					return err
				}
				filter.Status = domain.CaseStatus(status)
				items, err := a.Engine.ListCases(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Number", "ID", "Category", "Status", "Submitter", "Caseworker", "Filed"})
				for _, d := range items {
					badge := ""
					if d.Caseworker != nil {
						badge = d.Caseworker.Caseworker.Badge
					}
					tw.AppendRow(table.Row{d.Case.Number, d.Case.ID, d.Case.Category, d.Case.Status, d.Submitter.Wallet, badge, d.Case.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "all, submitted or assigned (defaults by role)")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				d, err := a.Engine.ViewCase(ctx, id, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Case %s (%s) %s\n", d.Case.Number, d.Case.Category, d.Case.Status)
				fmt.Printf("  submitter: %s\n", d.Submitter.Wallet)
				if d.Caseworker != nil {
					fmt.Printf("  caseworker: %s (%s)\n", d.Caseworker.Caseworker.Name, d.Caseworker.Caseworker.Badge)
				}
				fmt.Printf("  location: %s\n  incident: %s\n  %s\n", d.Case.Location, d.Case.IncidentAt, d.Case.Description)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "From", "To", "By", "Comment", "Tx", "At"})
				for _, u := range d.Updates {
					tw.AppendRow(table.Row{u.Seq, u.PreviousStatus, u.NewStatus, u.ActorID, deref(u.Comment), deref(u.TxID), u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func caseAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <case-id> <caseworker-id>",
		Short: "Assign a caseworker (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				c, conf, err := a.Engine.AssignCaseworker(ctx, id, args[0], args[1])
				if err != nil {
					return err
				}
				printConfirmation(conf)
				return printJSONOrTable(c)
			})
		},
	}
}

func caseStatusCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "status <case-id> <status>",
		Short: "Move a case to pending, in_progress, closed or rejected",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				c, _, conf, err := a.Engine.UpdateStatus(ctx, engine.StatusOptions{
					ActorID: id,
					CaseID:  args[0],
					Status:  domain.CaseStatus(strings.TrimSpace(args[1])),
					Comment: comment,
				})
				if err != nil {
					return err
				}
				printConfirmation(conf)
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "comment recorded in the case history")
	return cmd
}

func caseEvidenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-evidence <case-id> <file>",
		Short: "Upload a file and attach it to a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				cid, name, err := upload(ctx, a, args[1])
				if err != nil {
					return err
				}
				c, err := a.Engine.AttachEvidence(ctx, id, args[0], cid, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func docCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "doc", Short: "Content-addressed documents"}
	cmd.AddCommand(&cobra.Command{
		Use:   "put <file>",
		Short: "Upload a file and print its content id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cid, name, err := upload(ctx, a, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"content_id": cid, "filename": name, "url": a.Content.URL(cid)})
			})
		},
	})
	return cmd
}

func upload(ctx context.Context, a *app.App, path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	name := filepath.Base(path)
	cid, err := a.Content.Put(ctx, data, name)
	if err != nil {
		return "", "", err
	}
	return cid, name, nil
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show case and actor counts (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				s, err := a.Engine.Stats(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Cases: %d (closed %d)\n", s.TotalCases, s.ClosedCases)
				fmt.Printf("Pending verifications: %d\n", s.PendingVerifications)
				fmt.Printf("Caseworkers: %d\n", s.Caseworkers)
				for _, st := range domain.AllCaseStatuses {
					fmt.Printf("  %s: %d\n", st, s.CasesByStatus[st])
				}
				return nil
			})
		},
	}
}

func eventsCmd() *cobra.Command {
	var after int64
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event log (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := actingID(ctx, a)
				if err != nil {
					return err
				}
				if _, err := a.Engine.Authorize(ctx, id, auth.PermEventsRead); err != nil {
					return err
				}
				items, err := a.Store.EventsAfter(ctx, limit, after)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only events with a larger id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events")
	return cmd
}
