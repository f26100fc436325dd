// Command zpaqgo is a thin CLI over the zpaqgo archiver library:
// compress, decompress, and list the segments of a single block.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zpaqgo/zpaqgo"
	"github.com/zpaqgo/zpaqgo/config"
)

func main() {
	logger := log.New(os.Stderr)

	rootCmd := &cobra.Command{
		Use:   "zpaqgo",
		Short: "A context-mixing archiver",
	}

	var checksums bool
	var comment string

	compressCmd := &cobra.Command{
		Use:   "compress [input] [archive]",
		Short: "Compress a single file into a new archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(logger, args[0], args[1], comment, checksums)
		},
	}
	compressCmd.Flags().BoolVar(&checksums, "checksums", true, "store a SHA-1 trailer per segment")
	compressCmd.Flags().StringVar(&comment, "comment", "", "segment comment")

	var workers int
	var verify bool

	decompressCmd := &cobra.Command{
		Use:   "decompress [archive] [output]",
		Short: "Decompress the first block of an archive to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecompress(logger, args[0], args[1], verify)
		},
	}
	decompressCmd.Flags().IntVar(&workers, "workers", 0, "parallel decode workers (ignored: only the first block is decoded, on one goroutine)")
	decompressCmd.Flags().BoolVar(&verify, "verify", true, "verify segment SHA-1 checksums")

	listCmd := &cobra.Command{
		Use:   "list [archive]",
		Short: "List the segments in an archive's first block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(logger, args[0])
		},
	}

	rootCmd.AddCommand(compressCmd, decompressCmd, listCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCompress(logger *log.Logger, inputPath, archivePath, comment string, checksums bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	_ = cfg // reserved for split-method/level selection once multi-fragment compress lands

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	hdr, err := zpaqgo.DefaultOrder0Header()
	if err != nil {
		return fmt.Errorf("build header: %w", err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	seg := zpaqgo.Segment{Filename: inputPath, Comment: comment, Data: data, Checksum: checksums}
	bw := bufio.NewWriter(out) // segment coding needs an io.ByteWriter
	if err := zpaqgo.Compress(bw, 2, hdr, []zpaqgo.Segment{seg}); err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	logger.Info("compressed", "input", inputPath, "archive", archivePath, "bytes", len(data))
	return nil
}

func runDecompress(logger *log.Logger, archivePath, outputPath string, verify bool) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	segs, err := zpaqgo.Decompress(bufio.NewReader(in), verify)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	if len(segs) == 0 {
		return fmt.Errorf("archive contains no segments")
	}

	if err := os.WriteFile(outputPath, segs[0].Data, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	logger.Info("decompressed", "archive", archivePath, "output", outputPath, "bytes", len(segs[0].Data))
	return nil
}

func runList(logger *log.Logger, archivePath string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	segs, err := zpaqgo.Decompress(bufio.NewReader(in), false)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	for _, s := range segs {
		fmt.Printf("%s\t%d bytes\t%s\n", s.Filename, len(s.Data), s.Comment)
	}
	logger.Debug("listed archive", "path", archivePath, "segments", len(segs))
	return nil
}
