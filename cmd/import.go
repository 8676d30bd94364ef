package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceid/internal/biometric"
	"github.com/kozaktomas/faceid/internal/constants"
	"github.com/kozaktomas/faceid/internal/database"
	"github.com/kozaktomas/faceid/internal/extractor"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Bulk enroll identities from a directory tree",
	Long: `Bulk enroll identities from a directory tree.
Every subdirectory of <dir> is one identity; its name is the identity ID and
display name. Images named after an angle (front.jpg, left.png, ...) are
tagged with that angle. Faces that duplicate an existing identity are
reported and skipped.

Layout:
  people/
    alice/front.jpg
    alice/left.jpg
    bob/portrait.jpg

Examples:
  faceid import people
  faceid import people --concurrency 8 --skip-existing`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of parallel workers")
	importCmd.Flags().Bool("skip-existing", false, "Skip identities that are already enrolled")
}

// imageExtensions lists the formats PrepareImage can decode.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// importJob is one identity directory.
type importJob struct {
	identityID string
	paths      []string
}

func runImport(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	if concurrency <= 0 {
		concurrency = constants.DefaultConcurrency
	}
	skipExisting := mustGetBool(cmd, "skip-existing")

	jobs, err := scanImportDir(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	var todo []importJob
	for _, j := range jobs {
		if _, ok := a.store.Get(j.identityID); ok && skipExisting {
			continue
		}
		todo = append(todo, j)
	}
	fmt.Printf("Identities to import: %d (skipping %d already enrolled)\n\n", len(todo), len(jobs)-len(todo))
	if len(todo) == 0 {
		return a.Close()
	}

	bar := progressbar.NewOptions(len(todo),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("identities"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var successCount, duplicateCount, errorCount int
	var failures []string
	var mu sync.Mutex

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, job := range todo {
		wg.Add(1)
		go func(j importJob) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer func() { _ = bar.Add(1) }()

			err := importIdentity(ctx, a.coordinator, j)

			mu.Lock()
			defer mu.Unlock()
			var dup *biometric.DuplicateError
			switch {
			case err == nil:
				successCount++
			case errors.As(err, &dup):
				duplicateCount++
				failures = append(failures, fmt.Sprintf("%s: duplicate of %s", j.identityID, dup.IdentityID))
			default:
				errorCount++
				failures = append(failures, fmt.Sprintf("%s: %v", j.identityID, err))
			}
		}(job)
	}

	wg.Wait()
	fmt.Println()

	sort.Strings(failures)
	for _, f := range failures {
		fmt.Println("  " + f)
	}
	fmt.Printf("\nImport complete: %d enrolled, %d duplicates, %d errors\n", successCount, duplicateCount, errorCount)

	ctxFlush, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := a.store.Flush(ctxFlush); err != nil {
		a.logger.Warn("flush after import did not complete", "error", err)
	}
	if d := a.store.Durability(); d.Degraded {
		fmt.Printf("Warning: %d enrollment writes failed to persist (last error: %s)\n", d.Failures, d.LastError)
	}
	return a.Close()
}

func importIdentity(ctx context.Context, coord *biometric.Coordinator, j importJob) error {
	images := make([]extractor.AngleImage, 0, len(j.paths))
	for _, path := range j.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		images = append(images, extractor.AngleImage{Angle: angleFromPath(path), Data: data})
	}
	_, err := coord.Enroll(ctx, biometric.EnrollRequest{
		IdentityID: j.identityID,
		Images:     images,
		Metadata:   database.Metadata{DisplayName: j.identityID},
	})
	return err
}

// scanImportDir lists one job per subdirectory that holds at least one image.
func scanImportDir(root string) ([]importJob, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read import directory: %w", err)
	}

	var jobs []importJob
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		job := importJob{identityID: entry.Name()}
		for _, f := range files {
			if f.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			job.paths = append(job.paths, filepath.Join(dir, f.Name()))
		}
		if len(job.paths) > 0 {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// angleFromPath maps front.jpg to "front"; other names keep their base name.
func angleFromPath(path string) string {
	base := filepath.Base(path)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	for _, angle := range constants.Angles {
		if stem == angle {
			return angle
		}
	}
	return base
}
