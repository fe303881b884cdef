package types

// Version is the canonical project version shared by the supervisor binary,
// the child client library and the trace file format.
const Version = "0.1.0"

// TraceFormatVersion is bumped whenever the trace record layout changes.
const TraceFormatVersion = 1
