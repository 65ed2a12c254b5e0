package main

import (
	"encoding/xml"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rothirschtec/Simple-Backup-Environment/pkg/config"
	"github.com/rothirschtec/Simple-Backup-Environment/pkg/types"
)

var (
	backupDir  = flag.String("backup-dir", config.DefaultBackupDir, "SBE backup directory")
	xmlPath    = flag.String("xml", "", "Legacy job file (default: <backup-dir>/backup.xml)")
	yamlPath   = flag.String("yaml", "", "Job file to write (default: <backup-dir>/config/backup.yaml)")
	dryRun     = flag.Bool("dry-run", false, "Print the converted job file without writing it")
	backupPath = flag.String("backup", "", "Copy of an existing job file taken before it is overwritten (default: <yaml>.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("SBE Job File Migration - backup.xml → backup.yaml")
	log.Println("=================================================")

	src := *xmlPath
	if src == "" {
		src = filepath.Join(*backupDir, "backup.xml")
	}
	dst := *yamlPath
	if dst == "" {
		dst = filepath.Join(*backupDir, "config", "backup.yaml")
	}

	data, err := os.ReadFile(src)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", src, err)
	}
	log.Printf("Source: %s", src)
	log.Printf("Destination: %s", dst)
	log.Printf("Dry run: %v", *dryRun)

	jobs, err := convert(data)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Found %d jobs", len(jobs))

	out, err := yaml.Marshal(config.JobFile{Servers: jobs})
	if err != nil {
		log.Fatalf("Failed to encode jobs: %v", err)
	}
	set, err := config.ParseJobs(out)
	if err != nil {
		log.Fatalf("Converted job file does not parse: %v", err)
	}
	for _, invalid := range set.Invalid {
		log.Printf("⚠ Warning: %v", invalid)
	}

	if *dryRun {
		log.Println("\n[DRY RUN] Would write:")
		fmt.Print(string(out))
		log.Println("Run without --dry-run to perform the migration.")
		return
	}

	if _, err := os.Stat(dst); err == nil {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dst + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dst, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	if err := config.SaveJobs(dst, jobs); err != nil {
		log.Fatalf("Failed to write %s: %v", dst, err)
	}
	log.Printf("✓ Migrated %d jobs (%d invalid)", len(jobs), len(set.Invalid))
	log.Printf("%s has been preserved; remove it once the scheduler runs from %s", src, dst)
}

// legacyFile is the layout of backup.xml
type legacyFile struct {
	Servers []legacyServer `xml:"server"`
}

type legacyServer struct {
	BackupDirectory string   `xml:"backupdirectory"`
	Intervall       string   `xml:"intervall"`
	Date            string   `xml:"date"`
	Type            string   `xml:"type"`
	Retention       string   `xml:"retention"`
	Include         []string `xml:"include"`
	Exclude         []string `xml:"exclude"`
}

// convert turns the servers of a legacy job file into job definitions.
// Validation is left to config.ParseJobs.
func convert(data []byte) ([]types.JobDefinition, error) {
	var file legacyFile
	if err := xml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	jobs := make([]types.JobDefinition, 0, len(file.Servers))
	for i, s := range file.Servers {
		job := types.JobDefinition{
			Target:   strings.TrimSpace(s.BackupDirectory),
			Interval: strings.TrimSpace(s.Intervall),
			Date:     strings.TrimSpace(s.Date),
			Class:    types.JobClass(strings.ToLower(strings.TrimSpace(s.Type))),
			Include:  trimAll(s.Include),
			Exclude:  trimAll(s.Exclude),
		}
		if r := strings.TrimSpace(s.Retention); r != "" {
			n, err := strconv.Atoi(r)
			if err != nil {
				return nil, fmt.Errorf("server %d (%s): invalid retention %q", i+1, job.Target, r)
			}
			job.Retention = n
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0644)
}
