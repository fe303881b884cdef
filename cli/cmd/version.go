package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hearth/cli/render"
	"github.com/pithecene-io/hearth/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version" yaml:"version"`
	Commit          string `json:"commit" yaml:"commit"`
	ProtocolVersion uint32 `json:"protocol_version" yaml:"protocol_version"`
	TraceFormat     int    `json:"trace_format" yaml:"trace_format"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := rejectTUI(c, "version"); err != nil {
			return err
		}
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version:         types.Version,
			Commit:          commit,
			ProtocolVersion: types.MaxProtocolVersion,
			TraceFormat:     types.TraceFormatVersion,
		})
	}
}
