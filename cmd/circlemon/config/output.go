package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/circlemon/circlemon/pkg/api"
)

// OutputFormat represents the output format
type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

// Outputter handles formatted output
type Outputter struct {
	format OutputFormat
	writer io.Writer
}

// NewOutputter creates a new outputter writing to stdout
func NewOutputter(format string) *Outputter {
	return NewOutputterTo(format, os.Stdout)
}

// NewOutputterTo creates a new outputter writing to w
func NewOutputterTo(format string, w io.Writer) *Outputter {
	return &Outputter{
		format: OutputFormat(strings.ToLower(format)),
		writer: w,
	}
}

// Print outputs data in the configured format
func (o *Outputter) Print(data interface{}) error {
	switch o.format {
	case OutputJSON:
		return o.printJSON(data)
	case OutputYAML:
		return o.printYAML(data)
	case OutputTable:
		return fmt.Errorf("table format requires custom formatting")
	default:
		return fmt.Errorf("unknown output format: %s", o.format)
	}
}

// PrintTable prints data as a table
func (o *Outputter) PrintTable(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(o.writer)

	headerAny := make([]any, len(headers))
	for i, h := range headers {
		headerAny[i] = h
	}
	table.Header(headerAny...)

	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

// PrintReport prints a pass report: one row per probed pool in table format,
// the whole report otherwise
func (o *Outputter) PrintReport(report *api.PassReport) error {
	if o.format != OutputTable {
		return o.Print(report)
	}

	var rows [][]string
	for _, outcome := range report.Outcomes {
		status := "ok"
		switch {
		case outcome.Failed():
			status = outcome.ErrorKind
		case outcome.ProvisionTriggered:
			status = "provisioning " + outcome.RunID
		}

		if len(outcome.Probed) == 0 {
			rows = append(rows, []string{outcome.CircleID, "-", "-", "-", strconv.Itoa(outcome.MinimumAvailableCount), "false", status})
		}
		for _, row := range outcome.Rows() {
			rows = append(rows, []string{
				row.Circle,
				row.Env,
				row.Pool,
				strconv.Itoa(row.AvailableCount),
				strconv.Itoa(row.MinimumCount),
				strconv.FormatBool(row.Provision),
				status,
			})
		}
	}

	o.PrintTable([]string{"Circle", "Env", "Pool", "Available", "Minimum", "Provision", "Status"}, rows)
	fmt.Fprintf(o.writer, "Pass %s: %d circles, %d failed, %d provisioned\n",
		report.PassID, len(report.Outcomes), report.Failures(), report.Provisioned())

	for _, outcome := range report.Outcomes {
		if outcome.Error != "" {
			fmt.Fprintf(o.writer, "  %s: %s\n", outcome.CircleID, outcome.Error)
		}
	}
	return nil
}

// PrintCircles prints resolved circle configurations
func (o *Outputter) PrintCircles(configs []api.CircleConfig) error {
	if o.format != OutputTable {
		return o.Print(configs)
	}

	rows := make([][]string, 0, len(configs))
	for _, cfg := range configs {
		kind := "-"
		if len(cfg.Pools) > 0 {
			kind = string(cfg.Pools[0].Kind)
		}
		provision := "-"
		if cfg.Provision.ID > 0 {
			provision = fmt.Sprintf("%s %d", cfg.Provision.Kind, cfg.Provision.ID)
		}
		rows = append(rows, []string{
			cfg.CircleID,
			kind,
			strings.Join(cfg.PoolIDs(), ","),
			strconv.Itoa(cfg.MinimumAvailableCount),
			provision,
			cfg.Identity.UserName,
		})
	}

	o.PrintTable([]string{"Circle", "Kind", "Pools", "Minimum", "Provision", "User"}, rows)
	return nil
}

// printJSON outputs data as JSON
func (o *Outputter) printJSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML outputs data as YAML
func (o *Outputter) printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(o.writer)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(data)
}

// GetFormat returns the output format
func (o *Outputter) GetFormat() OutputFormat {
	return o.format
}
