package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/faceid/internal/biometric"
	"github.com/kozaktomas/faceid/internal/constants"
	"github.com/kozaktomas/faceid/internal/database"
	"github.com/kozaktomas/faceid/internal/extractor"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [image...]",
	Short: "Enroll an identity from one or more face captures",
	Long: `Enroll an identity from one or more face captures.
Each capture must contain exactly one face. Captures that fail are skipped as
long as at least one succeeds; the usable descriptors are averaged.
Enrollment is rejected when the face already belongs to another identity.

Examples:
  # Single capture, new identity gets a generated UUID
  faceid enroll portrait.jpg --name "Jana Nováková"

  # Re-enroll an existing identity from several angles
  faceid enroll --id 42 --front front.jpg --left left.jpg --right right.jpg`,
	RunE: runEnroll,
}

// angleFlags are the per-angle capture flags, in canonical order.
var angleFlags = constants.Angles[1:]

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "Identity ID (default: generated UUID)")
	enrollCmd.Flags().String("name", "", "Display name")
	enrollCmd.Flags().String("email", "", "Email address")
	for _, angle := range angleFlags {
		enrollCmd.Flags().String(angle, "", fmt.Sprintf("Capture taken from the %s", angle))
	}
}

func runEnroll(cmd *cobra.Command, args []string) error {
	images, err := readAngleImages(cmd, args)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return errors.New("at least one image is required")
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	res, err := a.coordinator.Enroll(ctx, biometric.EnrollRequest{
		IdentityID: mustGetString(cmd, "id"),
		Images:     images,
		Metadata: database.Metadata{
			DisplayName: mustGetString(cmd, "name"),
			Email:       mustGetString(cmd, "email"),
		},
	})
	closeErr := a.Close()
	if err != nil {
		return describeEnrollError(err)
	}

	for _, s := range res.Skipped {
		fmt.Printf("Skipped %s: %v\n", s.Angle, s.Err)
	}
	verb := "Enrolled"
	if res.Replaced {
		verb = "Re-enrolled"
	}
	fmt.Printf("%s %s from %d capture(s)\n", verb, res.Enrollment.IdentityID, res.Enrollment.AngleCount)
	return closeErr
}

// readAngleImages collects positional captures and the per-angle flags.
func readAngleImages(cmd *cobra.Command, args []string) ([]extractor.AngleImage, error) {
	var images []extractor.AngleImage
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		images = append(images, extractor.AngleImage{Angle: filepath.Base(path), Data: data})
	}
	for _, angle := range angleFlags {
		path := mustGetString(cmd, angle)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s image: %w", angle, err)
		}
		images = append(images, extractor.AngleImage{Angle: angle, Data: data})
	}
	return images, nil
}

func describeEnrollError(err error) error {
	var dup *biometric.DuplicateError
	switch {
	case errors.As(err, &dup):
		return fmt.Errorf("enrollment rejected: face already enrolled as %s (distance %.4f)", dup.IdentityID, dup.Distance)
	case errors.Is(err, biometric.ErrNoFaceImagesUsable):
		return fmt.Errorf("enrollment rejected: %w", err)
	default:
		return err
	}
}
