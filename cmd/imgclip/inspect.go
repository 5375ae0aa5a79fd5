package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/image/bmp"

	"go.klb.dev/imgclip/internal/clip"
	"go.klb.dev/imgclip/internal/dib"
)

func newInspectCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "inspect [dib-file...]",
		Short: "Describe DIB headers and their classified encoding",
		Long: `Prints the header fields of each DIB file, the encoding the header
declares, and how imgclip would rebuild its pixels. Without arguments the
current clipboard is inspected instead, including the list of formats on it.

--verify repackages each bitmap as .bmp and decodes the result with an
independent BMP decoder.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), v, args)
		},
	}

	cmd.Flags().Bool("verify", false, "decode the repackaged .bmp to check it")
	addConfigFlag(cmd)

	return cmd
}

func runInspect(w io.Writer, v *viper.Viper, paths []string) error {
	verify := v.GetBool("verify")
	if len(paths) == 0 {
		return inspectClipboard(w, clip.New(), verify)
	}
	for i, p := range paths {
		if i > 0 {
			fmt.Fprintln(w)
		}
		block, err := readDIB(p)
		if err != nil {
			return err
		}
		bm, err := dib.Decode(block)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		printBitmap(w, p, bm, verify)
	}
	return nil
}

func inspectClipboard(w io.Writer, backend clip.Backend, verify bool) error {
	defer backend.Close()

	cb, err := backend.Open()
	if err != nil {
		return fmt.Errorf("open clipboard: %w", err)
	}
	formats, ferr := cb.Formats()
	bm, err := dib.Unclip(cb)
	if cerr := cb.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if ferr != nil {
		return fmt.Errorf("list formats: %w", ferr)
	}
	if err != nil {
		return err
	}

	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.String()
	}
	fmt.Fprintf(w, "Backend:  %s\n", backend.Name())
	fmt.Fprintf(w, "Formats:  %s\n", strings.Join(names, ", "))
	if bm == nil {
		fmt.Fprintf(w, "No %s on the clipboard.\n", clip.FormatDIB)
		return nil
	}
	fmt.Fprintln(w)
	printBitmap(w, clip.FormatDIB.String(), bm, verify)
	return nil
}

func printBitmap(out io.Writer, name string, bm *dib.Bitmap, verify bool) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	defer w.Flush()

	order := "top-down"
	if bm.BottomUp() {
		order = "bottom-up"
	}
	encoding := "unrecognised"
	if bm.Encoding != nil {
		encoding = bm.Encoding.String()
	}

	fmt.Fprintf(w, "Source:\t%s\n", name)
	fmt.Fprintf(w, "Size:\t%d x %d (%s)\n", bm.Width(), bm.Height(), order)
	fmt.Fprintf(w, "Header:\t%d bytes\n", bm.HeaderLen())
	fmt.Fprintf(w, "Depth:\t%s\n", bm.Depth())
	fmt.Fprintf(w, "Compression:\t%s\n", dib.CompressionName(bm.Info.Compression))
	fmt.Fprintf(w, "Image size:\t%d\n", bm.Info.SizeImage)
	fmt.Fprintf(w, "Colors used:\t%d\n", bm.Info.ColorsUsed)
	fmt.Fprintf(w, "Resolution:\t%d x %d px/m\n", bm.Info.XPelsPerMeter, bm.Info.YPelsPerMeter)
	fmt.Fprintf(w, "Encoding:\t%s\n", encoding)
	fmt.Fprintf(w, "Table:\t%d entries\n", len(bm.Colors))
	fmt.Fprintf(w, "Payload:\t%d bytes at file offset %d\n", len(bm.Data), bm.File.OffBits)

	if p, err := bm.Policy(); err != nil {
		fmt.Fprintf(w, "Pixels:\t%v\n", err)
	} else {
		fmt.Fprintf(w, "Pixels:\t%s, %d channels\n", p, p.Channels())
	}

	if !verify {
		return
	}
	img, err := bmp.Decode(bytes.NewReader(bm.BMP()))
	if err != nil {
		fmt.Fprintf(w, "Verify:\tfailed: %v\n", err)
		return
	}
	b := img.Bounds()
	fmt.Fprintf(w, "Verify:\tok, decoded %d x %d\n", b.Dx(), b.Dy())
}
