// Command propmock-server serves the property-management mock backend over
// plain HTTP for consumers that cannot swap their HTTP transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"propmock/internal/bootstrap"
	"propmock/internal/platform/errors"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml config file (default $PROPMOCK_CONFIG or propmock.yaml)")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [Bootstrap] starting propmock-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.RunWithOptions(context.Background(), bootstrap.Options{ConfigPath: *configPath}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "propmock-server failed (%s): %v\n", errors.KindOf(err), err)
		os.Exit(1)
	}
}
