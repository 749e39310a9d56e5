package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"mailalias/backend/internal/logger"
	"mailalias/backend/internal/rowview"
	"mailalias/backend/internal/syncclient"
)

// remoteEnv 已完成初始化的远程会话
type remoteEnv struct {
	conn    *websocket.Conn
	session *syncclient.Session
}

func (o *globalOptions) connect(ctx context.Context) (*remoteEnv, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	conn, err := syncclient.Dial(ctx, o.server, nil)
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(o.timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	env := &remoteEnv{
		conn:    conn,
		session: syncclient.NewSession(conn, rowview.NewView(rowview.Defaults{}), logger.NewCLILogger(o.logLevel)),
	}

	ref, err := env.session.Initialise()
	if err == nil {
		_, err = env.await(ref)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return env, nil
}

// await 等待请求完成，服务端拒绝时返回 *syncclient.RequestError
func (e *remoteEnv) await(ref int64) (*syncclient.Outcome, error) {
	outcome, err := e.session.Await(ref)
	if err != nil {
		return nil, err
	}
	return outcome, outcome.Err()
}

func (e *remoteEnv) Close() {
	_ = e.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	e.conn.Close()
}

// remoteFailure 输出远程请求错误，包含服务端逐条校验信息
func remoteFailure(w io.Writer, title string, err error) error {
	var reqErr *syncclient.RequestError
	if errors.As(err, &reqErr) && len(reqErr.Errors) > 0 {
		return failure(w, title, reqErr.Errors...)
	}
	return failure(w, title, err.Error())
}

func newListCommand(opts *globalOptions) *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alias records on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.connect(cmd.Context())
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to connect", err.Error())
			}
			defer env.Close()

			view := env.session.View()
			keys, err := view.Search(search)
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Invalid search expression", err.Error())
			}

			out := cmd.OutOrStdout()
			for _, key := range keys {
				row, _ := view.Get(key)
				printRow(out, row)
			}
			faint.Fprintf(out, "%d of %d aliases\n", len(keys), len(view.Rows()))
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Case-insensitive regular expression matched against alias and description")
	return cmd
}

func printRow(w io.Writer, row rowview.Row) {
	fields := row.Edit
	kind := "   "
	if fields.IsRegex {
		kind = "re "
	}

	target := fields.Destination
	if fields.Blocked {
		target = red.Sprint("REJECT")
		if fields.Reason != "" {
			target += " " + fields.Reason
		}
	}

	fmt.Fprintf(w, "%s%-40s %s", kind, fields.Pattern, target)
	if fields.Description != "" {
		faint.Fprintf(w, "  # %s", fields.Description)
	}
	fmt.Fprintln(w)
}

func newAddCommand(opts *globalOptions) *cobra.Command {
	var (
		fields rowview.Fields
		random int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an alias record on a running server",
		Long: `Add creates one alias record. Unset fields fall back to the server's
defaults: the default destination user and an alias of the form
@<default domain>. With --random a random local part is generated for the
alias domain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.connect(cmd.Context())
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to connect", err.Error())
			}
			defer env.Close()

			view := env.session.View()
			key := view.NewRow(nil)
			row, _ := view.Get(key)

			edit := row.Edit
			if fields.Pattern != "" {
				edit.Pattern = fields.Pattern
			}
			if fields.Destination != "" {
				edit.Destination = fields.Destination
			}
			edit.Description = fields.Description
			edit.IsRegex = fields.IsRegex
			edit.Blocked = fields.Blocked
			edit.Reason = fields.Reason
			if err := view.Edit(key, edit); err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to prepare alias", err.Error())
			}
			if cmd.Flags().Changed("random") {
				if _, err := view.Randomize(key, random); err != nil {
					return failure(cmd.ErrOrStderr(), "Failed to generate alias", err.Error())
				}
			}

			ref, err := env.session.Save(key)
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to send alias", err.Error())
			}
			outcome, err := env.await(ref)
			if err != nil {
				return remoteFailure(cmd.ErrOrStderr(), "Save rejected", err)
			}

			row, _ = view.Get(key)
			out := cmd.OutOrStdout()
			success(out, "saved %s", row.Edit.Pattern)
			if outcome.ReloadError != "" {
				warning(out, "map reload failed: %s", outcome.ReloadError)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&fields.Pattern, "alias", "a", "", "Alias address or pattern")
	flags.StringVarP(&fields.Destination, "user", "u", "", "Destination user or address list")
	flags.StringVarP(&fields.Description, "description", "d", "", "Description, written as a comment above the map line")
	flags.BoolVar(&fields.IsRegex, "regex", false, "Treat the alias as a regular expression")
	flags.BoolVar(&fields.Blocked, "blocked", false, "Reject mail for this alias")
	flags.StringVar(&fields.Reason, "reason", "", "Rejection reason")
	flags.IntVar(&random, "random", rowview.DefaultRandomLength, "Generate a random local part of this length")
	return cmd
}

func newDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ALIAS",
		Short: "Delete every record with the given alias on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.connect(cmd.Context())
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to connect", err.Error())
			}
			defer env.Close()

			ref, err := env.session.DeletePattern(args[0])
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Failed to send delete", err.Error())
			}
			outcome, err := env.await(ref)
			if err != nil {
				return remoteFailure(cmd.ErrOrStderr(), "Delete rejected", err)
			}

			n, err := outcome.Count()
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Unexpected server response", err.Error())
			}

			out := cmd.OutOrStdout()
			success(out, "deleted %d record(s) for %s", n, args[0])
			if outcome.ReloadError != "" {
				warning(out, "map reload failed: %s", outcome.ReloadError)
			}
			return nil
		},
	}
}
