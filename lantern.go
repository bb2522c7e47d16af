package lantern

// Version is the lantern runtime version, stamped into build output and
// reported by the CLI.
const Version = "0.3.0"
