package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipvault/internal/grpcservice"
)

func newListCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "list [text]",
		Short: "List the clipboard history, newest first",
		Long: `Lists stored selections, pinned first and then most recently used.

A text argument matches indexed text by word prefix and keywords by
substring. --kind restricts the list to text, link, image or unknown.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, args []string) error { return runList(cmd, v, args) },
	}

	f := cmd.Flags()
	f.Int("limit", 20, "selections per page")
	f.Int("page", 1, "page number, starting at 1")
	f.String("kind", "", "only show selections of this kind: text|link|image|unknown")
	f.Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runList(cmd *cobra.Command, v *viper.Viper, args []string) error {
	client, closeConn, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer closeConn()

	limit := v.GetInt("limit")
	page := max(v.GetInt("page"), 1)
	req := &grpcservice.QueryRequest{
		Limit:  limit,
		Offset: (page - 1) * limit,
		Kind:   v.GetString("kind"),
	}
	if len(args) == 1 {
		req.Text = args[0]
	}

	resp, err := client.Query(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printList(out, resp, page, time.Now())
	return nil
}

func printList(out io.Writer, resp *grpcservice.QueryResponse, page int, now time.Time) {
	if len(resp.Items) == 0 {
		fmt.Fprintln(out, "No selections.")
		return
	}

	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tID\tKIND\tUPDATED\tPREVIEW\n")
	for _, it := range resp.Items {
		marker := ""
		if it.PinnedAt != nil {
			marker = "*"
		}
		preview := it.Preview
		if it.URLHost != "" {
			preview += " (" + it.URLHost + ")"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			marker, it.ID, it.Kind, fmtAge(it.UpdatedAt, now), strings.TrimSpace(preview))
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\npage %d of %d (%d selections)\n", page, max(resp.TotalPages, 1), resp.TotalCount)
}

func fmtAge(t, now time.Time) string {
	age := now.Sub(t).Round(time.Second)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return t.Local().Format("15:04:05")
	}
	return t.Local().Format("2006-01-02")
}
