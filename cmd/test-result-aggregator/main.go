package main

import (
	goflag "flag"
	"os"

	"github.com/spf13/pflag"

	"github.com/openshift-eng/release-verify/pkg/aggregator"
)

func main() {
	cmd := aggregator.NewTestResultAggregatorCommand()
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
