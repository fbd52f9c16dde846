package flags

import "github.com/urfave/cli/v2"

const (
	APICategory        = "API"
	NetworkingCategory = "NETWORKING"
	DatabaseCategory   = "DATABASE"
	MiningCategory     = "MINING"
	VerifierCategory   = "VERIFIER"
	LoggingCategory    = "LOGGING AND DEBUGGING"
	MetricsCategory    = "METRICS AND STATS"
	MiscCategory       = "MISC"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}
