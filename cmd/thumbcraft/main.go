package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"itemuploader/internal/compose"
	"itemuploader/pkg/logger"
)

var (
	itemsDir     string
	templatesDir string
	outDir       string
	zipPath      string
	anchor       string
	resizeRatio  float64
	shadow       string
	format       string
	quality      int
	shopVar      string
)

var rootCmd = &cobra.Command{
	Use:   "thumbcraft",
	Short: "Composite cut-out item images onto template backgrounds",
	Long: "thumbcraft places every item image that has transparency onto every template image\n" +
		"and writes <item>_C_<shop or template>.<ext> files, optionally bundled into a zip.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := compose.DefaultOptions()
		opts.Anchor = compose.Anchor(anchor)
		opts.ResizeRatio = resizeRatio
		opts.Shadow = shadow
		opts.Format = format
		opts.Quality = quality
		if _, ok := compose.ShadowPresets[shadow]; !ok {
			return fmt.Errorf("unknown shadow preset %q (off, light, medium, strong)", shadow)
		}

		items, err := compose.LoadDir(itemsDir)
		if err != nil {
			return err
		}
		templates, err := compose.LoadDir(templatesDir)
		if err != nil {
			return err
		}
		if len(items) == 0 || len(templates) == 0 {
			return fmt.Errorf("need at least one item in %s and one template in %s", itemsDir, templatesDir)
		}

		out, err := newOutput(outDir, zipPath)
		if err != nil {
			return err
		}
		n, err := compose.Batch(cmd.Context(), items, templates, opts, shopVar, out.emit)
		if cerr := out.close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"items":     len(items),
			"templates": len(templates),
			"images":    n,
			"out":       outDir,
			"zip":       zipPath,
		}).Info("Thumbnails written")
		fmt.Fprintf(cmd.OutOrStdout(), "%d image(s) written to %s\n", n, outDir)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&itemsDir, "items", "", "Folder of cut-out item images (required)")
	rootCmd.Flags().StringVar(&templatesDir, "templates", "", "Folder of template images (required)")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "output", "Folder the composed images are written to")
	rootCmd.Flags().StringVar(&zipPath, "zip", "", "Also bundle the results into this zip file")
	rootCmd.Flags().StringVar(&anchor, "anchor", string(compose.AnchorCenter), "Item position: center, top, bottom, left, right, top-left, top-right, bottom-left, bottom-right")
	rootCmd.Flags().Float64Var(&resizeRatio, "resize", 1, "Scale factor applied to the item")
	rootCmd.Flags().StringVar(&shadow, "shadow", "off", "Drop shadow preset: off, light, medium, strong")
	rootCmd.Flags().StringVar(&format, "format", compose.FormatJPEG, "Output format: JPEG or PNG")
	rootCmd.Flags().IntVar(&quality, "quality", compose.DefaultQuality, "JPEG quality (1-100)")
	rootCmd.Flags().StringVar(&shopVar, "shop", "", "Shop variable used in place of the template name")
	rootCmd.MarkFlagRequired("items")
	rootCmd.MarkFlagRequired("templates")
}

func main() {
	logger.Init()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
