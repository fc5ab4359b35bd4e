package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"chatvoice/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to $CHATVOICE_CONFIG or ./config.yaml)")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [Bootstrap] starting chatvoice...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), bootstrap.Options{ConfigPath: *configPath}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "chatvoice failed: %v\n", err)
		os.Exit(1)
	}
}
