package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Leochrono/dinero-tikee-sub001/internal/bootstrap"
)

func main() {
	fmt.Printf("[%s] [INFO] starting tikee-client...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "tikee-client failed: %v\n", err)
		os.Exit(1)
	}
}
