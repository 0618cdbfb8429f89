package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/patient-sheets/internal/clinicdata"
	"github.com/wolfman30/patient-sheets/internal/compliance"
	"github.com/wolfman30/patient-sheets/internal/patients"
	"github.com/wolfman30/patient-sheets/internal/sheets"
)

type buildOptions struct {
	statePath   string
	redirectURL string
	verbose     bool
}

type env struct {
	session  *sheets.Session
	patients *patients.Service
	exporter *clinicdata.Exporter
	auditor  compliance.Auditor
	close    func()
}

type cli struct {
	out            io.Writer
	in             io.Reader
	consentTimeout time.Duration
	build          func(ctx context.Context, opts buildOptions) (*env, error)

	opts buildOptions
}

func (c *cli) run(cmd *cobra.Command, redirectURL string, fn func(ctx context.Context, e *env) error) error {
	ctx := actorContext(cmd.Context())
	opts := c.opts
	opts.redirectURL = redirectURL
	e, err := c.build(ctx, opts)
	if err != nil {
		return err
	}
	if e.close != nil {
		defer e.close()
	}
	return fn(ctx, e)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "patientctl",
		Short:         "Manage patient records stored in Google Sheets",
		SilenceUsage: true,
	}
	root.SetOut(c.out)
	root.PersistentFlags().StringVar(&c.opts.statePath, "state", "", "path to the local state file")
	root.PersistentFlags().BoolVarP(&c.opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(signInCmd(c))
	root.AddCommand(containersCmd(c))
	root.AddCommand(selectCmd(c))
	root.AddCommand(patientsCmd(c))
	root.AddCommand(exportCmd(c))
	return root
}

func signInCmd(c *cli) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Authorize access to your spreadsheets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen for redirect: %w", err)
			}
			redirect := "http://" + ln.Addr().String() + "/oauth/callback"

			return c.run(cmd, redirect, func(ctx context.Context, e *env) error {
				srv := &http.Server{
					Handler:           callbackHandler(e.session),
					ReadHeaderTimeout: 10 * time.Second,
				}
				go func() { _ = srv.Serve(ln) }()
				defer srv.Close()

				ctx, cancel := context.WithTimeout(ctx, c.consentTimeout)
				defer cancel()
				_, err := e.session.SignIn(ctx, func(_ context.Context, authURL string) error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to sign in:\n\n  %s\n\n", authURL)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed in.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:0", "loopback address for the OAuth redirect")
	return cmd
}

func callbackHandler(session *sheets.Session) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if err := session.CompleteSignIn(r.Context(), q.Get("state"), q.Get("code"), q.Get("error")); err != nil {
			http.Error(w, "Sign-in failed: "+err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "You can close this window and return to the terminal.")
	})
	return mux
}

func containersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "containers",
		Short: "List patient spreadsheets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				list, err := e.session.ListContainers(ctx)
				if err != nil {
					return err
				}
				selected, _ := e.session.Selector().Get(ctx)
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\tID\tNAME")
				for _, ct := range list {
					mark := ""
					if ct.ID == selected {
						mark = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, ct.ID, ct.Name)
				}
				return tw.Flush()
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a patient spreadsheet and select it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				created, err := e.session.CreateContainer(ctx, args[0])
				if err != nil {
					return err
				}
				logAudit(ctx, e, compliance.EventContainerCreated, created)
				if err := e.session.Selector().Set(ctx, created.ID); err != nil {
					return err
				}
				logAudit(ctx, e, compliance.EventContainerSelected, created)
				fmt.Fprintf(cmd.OutOrStdout(), "Created and selected %s (%s)\n", created.Name, created.ID)
				return nil
			})
		},
	})
	return cmd
}

func selectCmd(c *cli) *cobra.Command {
	var clearSelection bool
	cmd := &cobra.Command{
		Use:   "select [ID]",
		Short: "Show or change the selected spreadsheet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				sel := e.session.Selector()
				switch {
				case clearSelection:
					return sel.Clear(ctx)
				case len(args) == 0:
					id, err := sel.Get(ctx)
					if err != nil {
						return err
					}
					if id == "" {
						fmt.Fprintln(cmd.OutOrStdout(), "No spreadsheet selected.")
						return nil
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				}
				if err := sel.Set(ctx, args[0]); err != nil {
					return err
				}
				logAudit(ctx, e, compliance.EventContainerSelected, &sheets.Container{ID: args[0]})
				fmt.Fprintf(cmd.OutOrStdout(), "Selected %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearSelection, "clear", false, "forget the selected spreadsheet")
	return cmd
}

func patientsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Read and edit patient records in the selected spreadsheet",
	}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				var recs []patients.Record
				var err error
				if search != "" {
					recs, err = e.patients.Search(ctx, search)
				} else {
					recs, err = e.patients.List(ctx)
				}
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tAGE\tPHONE\tVISIT\tPHYSICIAN")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.PatientID, r.Name, r.Age, r.Phone, r.VisitDate, r.PhysicianName)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVarP(&search, "search", "q", "", "case-insensitive search term")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Print one patient as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				rec, err := e.patients.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	var addFile string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a patient from a JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.readRecord(addFile)
			if err != nil {
				return err
			}
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				saved, err := e.patients.Add(ctx, rec)
				if err != nil {
					return describe(err)
				}
				return printJSON(cmd.OutOrStdout(), saved)
			})
		},
	}
	add.Flags().StringVarP(&addFile, "file", "f", "-", "JSON file, - for stdin")

	var updateFile string
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Replace a patient from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.readRecord(updateFile)
			if err != nil {
				return err
			}
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				saved, err := e.patients.Update(ctx, args[0], rec)
				if err != nil {
					return describe(err)
				}
				return printJSON(cmd.OutOrStdout(), saved)
			})
		},
	}
	update.Flags().StringVarP(&updateFile, "file", "f", "-", "JSON file, - for stdin")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				if err := e.patients.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, get, add, update, del)
	return cmd
}

func exportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write a CSV snapshot of the selected spreadsheet to S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, e *env) error {
				if e.exporter == nil {
					return clinicdata.ErrExportDisabled
				}
				snap, err := e.exporter.Export(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows to s3://%s/%s\n", snap.Rows, snap.Bucket, snap.Key)
				return nil
			})
		},
	}
}

func (c *cli) readRecord(path string) (patients.Record, error) {
	var r io.Reader
	if path == "-" || path == "" {
		r = c.in
		if r == nil {
			r = os.Stdin
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return patients.Record{}, err
		}
		defer f.Close()
		r = f
	}
	var rec patients.Record
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return patients.Record{}, fmt.Errorf("decode patient: %w", err)
	}
	return rec, nil
}

// describe flattens validation problems into one line per field.
func describe(err error) error {
	var verr *patients.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	msg := "invalid patient:"
	for _, p := range verr.Problems {
		msg += fmt.Sprintf("\n  %s: %s", p.Field, p.Message)
	}
	return errors.New(msg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func logAudit(ctx context.Context, e *env, eventType compliance.AuditEventType, ct *sheets.Container) {
	if e.auditor == nil {
		return
	}
	event := compliance.NewAccessEvent(eventType, ct.ID, "", compliance.AuditDetails{ContainerName: ct.Name})
	_ = e.auditor.LogEvent(ctx, event)
}
