package ipc

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Descriptor numbers at which a child finds its pipe ends. They follow the
// three standard streams in exec.Cmd.ExtraFiles order.
const (
	ChildReadFD  = 3
	ChildWriteFD = 4
)

// Launch argument flag names.
const (
	FlagReadFD     = "hearth-read-fd"
	FlagWriteFD    = "hearth-write-fd"
	FlagEventLimit = "hearth-event-limit"
	FlagTimeoutMS  = "hearth-timeout-ms"
	FlagGroup      = "hearth-group"
	FlagCommand    = "hearth-command"
	FlagInputFile  = "hearth-input-file"
)

// LaunchArgs is the argument vector contract between the supervisor and a
// child. Services receive the descriptor, limit and timeout flags; the
// foreground application additionally receives its group, launch command
// and the path of a file holding the launch input.
type LaunchArgs struct {
	ReadFD     int
	WriteFD    int
	EventLimit int
	Timeout    time.Duration

	Foreground bool
	Group      uint32
	Command    string
	InputFile  string
}

// Args renders the flags in a stable order.
func (a LaunchArgs) Args() []string {
	args := []string{
		"--" + FlagReadFD + "=" + strconv.Itoa(a.ReadFD),
		"--" + FlagWriteFD + "=" + strconv.Itoa(a.WriteFD),
		"--" + FlagEventLimit + "=" + strconv.Itoa(a.EventLimit),
		"--" + FlagTimeoutMS + "=" + strconv.FormatInt(a.Timeout.Milliseconds(), 10),
	}
	if a.Foreground {
		args = append(args,
			"--"+FlagGroup+"="+strconv.FormatUint(uint64(a.Group), 10),
			"--"+FlagCommand+"="+a.Command,
			"--"+FlagInputFile+"="+a.InputFile,
		)
	}
	return args
}

// ParseLaunchArgs parses a child's argument vector (without the program
// name). Positional arguments are returned as rest. Any hearth flag other
// than the descriptors may be absent; Foreground is set when the group flag
// is present.
func ParseLaunchArgs(args []string) (LaunchArgs, []string, error) {
	var (
		a       LaunchArgs
		timeout int64
		group   uint32
	)
	flagSet := pflag.NewFlagSet("hearth-child", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.IntVar(&a.ReadFD, FlagReadFD, -1, "descriptor carrying supervisor-to-child events")
	flagSet.IntVar(&a.WriteFD, FlagWriteFD, -1, "descriptor carrying child-to-supervisor events")
	flagSet.IntVar(&a.EventLimit, FlagEventLimit, DefaultEventLimit, "events moved per pump")
	flagSet.Int64Var(&timeout, FlagTimeoutMS, 20, "receive poll timeout in milliseconds")
	flagSet.Uint32Var(&group, FlagGroup, 0, "foreground session group id")
	flagSet.StringVar(&a.Command, FlagCommand, "", "launch command identifier")
	flagSet.StringVar(&a.InputFile, FlagInputFile, "", "file holding the launch input text")

	if err := flagSet.Parse(args); err != nil {
		return LaunchArgs{}, nil, fmt.Errorf("parse launch args: %w", err)
	}
	if a.ReadFD < 0 || a.WriteFD < 0 {
		return LaunchArgs{}, nil, fmt.Errorf("parse launch args: --%s and --%s are required", FlagReadFD, FlagWriteFD)
	}
	if timeout < 0 {
		return LaunchArgs{}, nil, fmt.Errorf("parse launch args: negative --%s", FlagTimeoutMS)
	}
	a.Timeout = time.Duration(timeout) * time.Millisecond
	if flagSet.Changed(FlagGroup) {
		a.Foreground = true
		a.Group = group
	}
	return a, flagSet.Args(), nil
}
