package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chunkdrive/chunkdrive/internal/client/api"
	"github.com/chunkdrive/chunkdrive/internal/client/config"
	"github.com/chunkdrive/chunkdrive/internal/client/upload"
	"github.com/chunkdrive/chunkdrive/internal/flagx"
	"github.com/chunkdrive/chunkdrive/internal/logging"
	"github.com/chunkdrive/chunkdrive/internal/server/auth"
)

func main() {
	cfg := config.LoadConfig()

	args := flagx.FilterArgs(os.Args[1:], []string{"-f", "-n", "-P", "-o", "-k"})
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	filePath := fs.String("f", "", "file to upload")
	name := fs.String("n", "", "target file name (defaults to the base name)")
	parentID := fs.String("P", "root", "target folder id")
	mintOwner := fs.String("o", "", "mint a dev token for this owner id instead of using the configured token")
	mintSecret := fs.String("k", "", "signing secret for -o")
	_ = fs.Parse(args)

	if *filePath == "" {
		log.Fatal("no file given, use -f <path>")
	}

	token := cfg.AuthToken
	if *mintOwner != "" {
		var err error
		token, err = auth.GenerateToken(*mintOwner, []byte(*mintSecret), time.Hour)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}
	if *name == "" {
		*name = filepath.Base(*filePath)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		log.Fatalf("%v", err)
	}

	client, err := api.NewClient(cfg.ServerEndpointAddr, token)
	if err != nil {
		log.Fatalf("%v", err)
	}

	coordinator := upload.NewCoordinator(client, upload.Config{
		Concurrency:    cfg.ChunkConcurrency,
		Retries:        cfg.ChunkRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}, logging.NewJSON(), printProgress)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fileID, err := coordinator.Upload(ctx, f, uint64(st.Size()), *name, *parentID)
	fmt.Println()
	if err != nil {
		log.Fatalf("upload failed: %v", err)
	}

	fmt.Printf("uploaded %s as file %s\n", *name, fileID)
}

func printProgress(p upload.Progress) {
	if p.TotalChunks == 0 {
		fmt.Printf("\r%-16s", p.State)
		return
	}
	fmt.Printf("\r%-16s %d/%d chunks (%d/%d bytes)",
		p.State, p.UploadedChunks, p.TotalChunks, p.BytesUploaded, p.TotalBytes)
}
