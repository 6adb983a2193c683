package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
)

func printScripts() {
	fmt.Println("Scripts:")
	for key := range scriptMap {
		fmt.Println("\t" + key)
	}
}

func main() {
	flag.Parse()

	script := flag.Arg(0)
	fn, ok := scriptMap[script]
	if !ok {
		fmt.Printf(
			"you must specify a valid script, '%s' is not a valid script.\n",
			script,
		)
		printScripts()
		os.Exit(1)
	}

	fn()
}

func cmd(name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fullCmd := name
	for _, a := range args {
		fullCmd += " "
		fullCmd += a
	}

	fmt.Printf("$ %s\n", fullCmd)
	err := cmd.Run()
	if err != nil {
		os.Exit(1)
	}
}

var scriptMap = map[string]func(){
	"dev:apply_db_schema": migrateDb,
}

// migrateDb brings the dev databases up to date with the checked in
// schemas.
func migrateDb() {
	for db, schema := range map[string]string{
		"dev/.state/ingest.db":    "services/ingest/db/schema.sql",
		"dev/.state/baselines.db": "lib/baseline/db/schema.sql",
	} {
		cmd(
			"atlas", "schema", "apply",
			"-u", "sqlite://"+db,
			"--to", "file://"+schema,
			"--dev-url", "sqlite://dev?mode=memory",
			"--auto-approve",
		)
	}
}
