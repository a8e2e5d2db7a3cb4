package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var masterURL string

var httpClient = &http.Client{Timeout: 30 * time.Second}

var rootCmd = &cobra.Command{
	Use:   "clusterctl",
	Short: "Admin CLI for the cluster dispatch master",
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check master health",
	Run: func(cmd *cobra.Command, args []string) {
		get("/healthz")
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List queued jobs grouped by priority",
	Run: func(cmd *cobra.Command, args []string) {
		get("/queue")
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List claimed and completed jobs",
	Run: func(cmd *cobra.Command, args []string) {
		get("/claimed_jobs")
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List live workers",
	Run: func(cmd *cobra.Command, args []string) {
		get("/workers")
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit file",
	Short: "Submit a job input file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		priority, err := cmd.Flags().GetString("priority")
		if err != nil {
			log.Fatalf("failed to get priority flag: %v", err)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("failed to read %s: %v", args[0], err)
		}

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", filepath.Base(args[0]))
		if err != nil {
			log.Fatalf("failed to build form: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			log.Fatalf("failed to build form: %v", err)
		}
		if err := mw.WriteField("priority", priority); err != nil {
			log.Fatalf("failed to build form: %v", err)
		}
		if err := mw.Close(); err != nil {
			log.Fatalf("failed to build form: %v", err)
		}

		resp, err := httpClient.Post(masterURL+"/upload", mw.FormDataContentType(), &buf)
		if err != nil {
			log.Fatalf("upload failed: %v", err)
		}
		defer resp.Body.Close()
		printBody(resp.Body)
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the next job (for debugging)",
	Run: func(cmd *cobra.Command, args []string) {
		post("/claim_job")
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect job-id",
	Short: "Mark a completed job's result as collected",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		post("/mark_collected/" + args[0])
	},
}

var resultCmd = &cobra.Command{
	Use:   "result job-id",
	Short: "Download a job's result",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		outPath, err := cmd.Flags().GetString("output")
		if err != nil {
			log.Fatalf("failed to get output flag: %v", err)
		}

		resp, err := httpClient.Get(masterURL + "/download_result/" + args[0])
		if err != nil {
			log.Fatalf("download failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			printBody(resp.Body)
			os.Exit(1)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Fatalf("failed to read result: %v", err)
		}
		if outPath == "" {
			os.Stdout.Write(data)
			return
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			log.Fatalf("failed to write %s: %v", outPath, err)
		}
		fmt.Printf("Result written to %s (%d bytes)\n", outPath, len(data))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete job-id",
	Short: "Delete a job and its blobs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		post("/delete_job/" + args[0])
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete ALL jobs, workers, and blobs",
	Run: func(cmd *cobra.Command, args []string) {
		yes, err := cmd.Flags().GetBool("yes")
		if err != nil {
			log.Fatalf("failed to get yes flag: %v", err)
		}
		if !yes {
			log.Fatalln("refusing to purge without --yes")
		}
		post("/purge_all")
	},
}

func get(path string) {
	resp, err := httpClient.Get(masterURL + path)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	printBody(resp.Body)
}

func post(path string) {
	resp, err := httpClient.Post(masterURL+path, "application/json", nil)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	printBody(resp.Body)
}

func printBody(r io.Reader) {
	data, err := io.ReadAll(r)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		os.Stdout.Write(data)
		fmt.Println()
		return
	}
	fmt.Println(pretty.String())
}

func main() {
	rootCmd.PersistentFlags().StringVar(&masterURL, "master", envOr("MASTER_URL", "http://localhost:5000"), "master base URL")
	submitCmd.Flags().StringP("priority", "p", "1", "priority (0 highest, 2 lowest)")
	resultCmd.Flags().StringP("output", "o", "", "write result to file instead of stdout")
	purgeCmd.Flags().Bool("yes", false, "confirm the purge")

	rootCmd.AddCommand(healthCmd, queueCmd, jobsCmd, workersCmd, submitCmd, claimCmd, collectCmd, resultCmd, deleteCmd, purgeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
