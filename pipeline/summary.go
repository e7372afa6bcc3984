package pipeline

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-storefronts/models"
	"github.com/nao1215/markdown"
)

var stateIcons = map[models.SiteState]string{
	models.StateSuccess:    "✅",
	models.StateZeroResult: "⚠️",
	models.StateError:      "❌",
	models.StateCancelled:  "⏹️",
	models.StateSkipped:    "⏭️",
}

// WriteSummary renders the run as a Markdown report: totals, then one table
// row per site with records, pages, state, error and diagnostic capture.
func WriteSummary(w io.Writer, result *models.RunResult) error {
	md := markdown.NewMarkdown(w)
	counts := result.CountByState()

	md.H2("Storefront scrape summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Sites run", strconv.Itoa(len(result.Outcomes))},
			{"Sites skipped", strconv.Itoa(result.Skipped)},
			{"Records", strconv.Itoa(len(result.Records))},
			{"Success", strconv.Itoa(counts[models.StateSuccess])},
			{"Zero result", strconv.Itoa(counts[models.StateZeroResult])},
			{"Error", strconv.Itoa(counts[models.StateError])},
			{"Cancelled", strconv.Itoa(counts[models.StateCancelled])},
			{"Duration", result.Duration().Round(time.Millisecond).String()},
		},
	})
	md.PlainText("")

	switch failed := counts[models.StateZeroResult] + counts[models.StateError]; {
	case len(result.Outcomes) == 0:
		md.Note("No enabled site in the catalog.")
	case failed == len(result.Outcomes):
		md.Warningf("No site returned products. Check the diagnostic captures of all %d sites.", failed)
	case failed > 0:
		md.Importantf("%d of %d sites returned no products.", failed, len(result.Outcomes))
	default:
		md.Tip("Every site returned products.")
	}
	md.PlainText("")

	if len(result.Outcomes) > 0 {
		rows := make([][]string, 0, len(result.Outcomes))
		for _, o := range result.Outcomes {
			rows = append(rows, []string{
				escapeCell(o.SiteName),
				strconv.Itoa(len(o.Records)),
				strconv.Itoa(o.PagesFetched),
				stateIcons[o.State] + " " + string(o.State),
				escapeCell(o.ErrorText()),
				diagnosticCell(o),
			})
		}
		md.H3("Sites")
		md.PlainText("")
		md.Table(markdown.TableSet{
			Header: []string{"Site", "Records", "Pages", "State", "Error", "Diagnostic"},
			Rows:   rows,
		})
	}

	return md.Build()
}

// WriteText prints a short plain-text summary, one line per site.
func WriteText(w io.Writer, result *models.RunResult) error {
	var b strings.Builder
	for _, o := range result.Outcomes {
		fmt.Fprintf(&b, "%-30s %-12s records=%-5d pages=%d", o.SiteName, o.State, len(o.Records), o.PagesFetched)
		if o.Err != nil {
			fmt.Fprintf(&b, " error=%q", o.Err.Error())
		}
		if o.DiagnosticSaved {
			fmt.Fprintf(&b, " diagnostic=%s", o.DiagnosticPath)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "total records=%d sites=%d skipped=%d duration=%s\n",
		len(result.Records), len(result.Outcomes), result.Skipped, result.Duration().Round(time.Millisecond))
	_, err := io.WriteString(w, b.String())
	return err
}

func diagnosticCell(o *models.SiteRunOutcome) string {
	if !o.DiagnosticSaved {
		return ""
	}
	return "`" + o.DiagnosticPath + "`"
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
