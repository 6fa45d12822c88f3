// ledgerctl operates the hash-chained ledger auditor against a Postgres
// database: bootstrap, verify, reconstruct, checkpoint, and scan.
package main

import (
	"fmt"
	"os"

	"github.com/pgledger/auditor/pkg/cli"
)

func main() {
	err := cli.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
