package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/ledgerwatch/log/v3"
	"github.com/urfave/cli/v2"

	"github.com/seiflotfy/dictpress"
	"github.com/seiflotfy/dictpress/codec"
	"github.com/seiflotfy/dictpress/config"
	"github.com/seiflotfy/dictpress/discovery"
	"github.com/seiflotfy/dictpress/errs"
	"github.com/seiflotfy/dictpress/pipeline"
)

var (
	VerbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log level: crit, error, warn, info, debug, trace",
		Value: "info",
	}
	OutputFlag = cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output archive or directory",
	}
	MinPatternLengthFlag = cli.IntFlag{
		Name:  "min-pattern-length",
		Usage: "Minimum pattern length in characters",
		Value: config.DefaultMinPatternLength,
	}
	MinFrequencyFlag = cli.IntFlag{
		Name:  "min-frequency",
		Usage: "Minimum occurrences for a pattern to be compressed",
		Value: config.DefaultMinFrequency,
	}
	CodecFlag = cli.StringFlag{
		Name:  "codec",
		Usage: "Final codec: " + strings.Join(codec.Names(), ", "),
		Value: codec.NameZstd,
	}
	LevelFlag = cli.IntFlag{
		Name:  "level",
		Usage: "Final codec level",
		Value: config.DefaultCompressionLevel,
	}
	NoFinalFlag = cli.BoolFlag{
		Name:  "no-final",
		Usage: "Skip the final codec pass",
	}
	ThreadsFlag = cli.IntFlag{
		Name:  "threads",
		Usage: "Worker count, 0 for one per CPU",
	}
	ChunkSizeFlag = cli.StringFlag{
		Name:  "chunk-size",
		Usage: "Analysis chunk size",
		Value: config.DefaultChunkSize.String(),
	}
	BufferSizeFlag = cli.StringFlag{
		Name:  "buffer-size",
		Usage: "Read buffer size",
		Value: config.DefaultBufferSize.String(),
	}
	MmapThresholdFlag = cli.StringFlag{
		Name:  "mmap-threshold",
		Usage: "Files at or above this size are memory-mapped",
		Value: config.DefaultMmapThreshold.String(),
	}
	MaxFilesFlag = cli.IntFlag{
		Name:  "max-files",
		Usage: "Stop collecting after this many files",
		Value: config.DefaultMaxFiles,
	}
	MaxTotalSizeFlag = cli.StringFlag{
		Name:  "max-total-size",
		Usage: "Stop collecting after this many bytes",
		Value: config.DefaultMaxTotalSize.String(),
	}
	MaxDictionaryFlag = cli.IntFlag{
		Name:  "max-dictionary",
		Usage: "Maximum dictionary entries",
		Value: config.DefaultMaxDictionarySize,
	}
	FastChecksumFlag = cli.BoolFlag{
		Name:  "fast-checksum",
		Usage: "Checksum with xxhash only",
	}
	NoVerifyFlag = cli.BoolFlag{
		Name:  "no-verify",
		Usage: "Skip per-file round trip checks",
	}
	NoPruneFlag = cli.BoolFlag{
		Name:  "no-prune",
		Usage: "Keep patterns that are not longer than a token",
	}
	TopFlag = cli.IntFlag{
		Name:  "top",
		Usage: "Number of patterns to print",
		Value: 20,
	}
)

var configFlags = []cli.Flag{
	&MinPatternLengthFlag,
	&MinFrequencyFlag,
	&CodecFlag,
	&LevelFlag,
	&NoFinalFlag,
	&ThreadsFlag,
	&ChunkSizeFlag,
	&BufferSizeFlag,
	&MmapThresholdFlag,
	&MaxFilesFlag,
	&MaxTotalSizeFlag,
	&MaxDictionaryFlag,
	&FastChecksumFlag,
	&NoVerifyFlag,
	&NoPruneFlag,
}

var compressCommand = cli.Command{
	Action:    compressDir,
	Name:      "compress",
	Usage:     "Compress a directory into an archive",
	ArgsUsage: "<dir>",
	Flags:     append([]cli.Flag{&OutputFlag}, configFlags...),
}

var decompressCommand = cli.Command{
	Action:    decompressArchive,
	Name:      "decompress",
	Usage:     "Restore the files of an archive into a directory",
	ArgsUsage: "<archive>",
	Flags:     []cli.Flag{&OutputFlag, &ThreadsFlag},
}

var verifyCommand = cli.Command{
	Action:    verifyArchive,
	Name:      "verify",
	Usage:     "Check an archive against its manifest",
	ArgsUsage: "<archive>",
}

var analyzeCommand = cli.Command{
	Action:    analyzeDir,
	Name:      "analyze",
	Usage:     "Print the most frequent patterns of a directory",
	ArgsUsage: "<dir>",
	Flags:     append([]cli.Flag{&TopFlag}, configFlags...),
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "dictpress"
	app.Usage = "dictionary compression for source trees"
	app.UsageText = app.Name + ` [command] [flags]`
	app.Flags = []cli.Flag{&VerbosityFlag}
	app.Commands = []*cli.Command{
		&compressCommand,
		&decompressCommand,
		&verifyCommand,
		&analyzeCommand,
	}
	return app
}

func setupLogger(cliCtx *cli.Context) (log.Logger, error) {
	lvl, err := log.LvlFromString(cliCtx.String(VerbosityFlag.Name))
	if err != nil {
		return nil, err
	}
	logger := log.New()
	logger.SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))
	return logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func parseSize(cliCtx *cli.Context, flag *cli.StringFlag) (datasize.ByteSize, error) {
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(cliCtx.String(flag.Name))); err != nil {
		return 0, errs.Config(flag.Name, "%q: %v", cliCtx.String(flag.Name), err)
	}
	return v, nil
}

func configOptions(cliCtx *cli.Context, logger log.Logger) ([]config.Option, error) {
	chunk, err := parseSize(cliCtx, &ChunkSizeFlag)
	if err != nil {
		return nil, err
	}
	buffer, err := parseSize(cliCtx, &BufferSizeFlag)
	if err != nil {
		return nil, err
	}
	mmapAt, err := parseSize(cliCtx, &MmapThresholdFlag)
	if err != nil {
		return nil, err
	}
	total, err := parseSize(cliCtx, &MaxTotalSizeFlag)
	if err != nil {
		return nil, err
	}
	return []config.Option{
		config.WithLogger(logger),
		config.WithMinPatternLength(cliCtx.Int(MinPatternLengthFlag.Name)),
		config.WithMinFrequency(cliCtx.Int(MinFrequencyFlag.Name)),
		config.WithFinalCompression(!cliCtx.Bool(NoFinalFlag.Name)),
		config.WithCodec(cliCtx.String(CodecFlag.Name), cliCtx.Int(LevelFlag.Name)),
		config.WithThreads(cliCtx.Int(ThreadsFlag.Name)),
		config.WithChunkSize(chunk),
		config.WithBufferSize(buffer),
		config.WithMmapThreshold(mmapAt),
		config.WithLimits(cliCtx.Int(MaxFilesFlag.Name), total),
		config.WithMaxDictionarySize(cliCtx.Int(MaxDictionaryFlag.Name)),
		config.WithFastChecksum(cliCtx.Bool(FastChecksumFlag.Name)),
		config.WithVerifyRoundTrip(!cliCtx.Bool(NoVerifyFlag.Name)),
		config.WithPruneUnprofitable(!cliCtx.Bool(NoPruneFlag.Name)),
	}, nil
}

func firstArg(cliCtx *cli.Context, what string) (string, error) {
	if cliCtx.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one %s argument, got %d", what, cliCtx.Args().Len())
	}
	return cliCtx.Args().First(), nil
}

func compressDir(cliCtx *cli.Context) error {
	logger, err := setupLogger(cliCtx)
	if err != nil {
		return err
	}
	root, err := firstArg(cliCtx, "directory")
	if err != nil {
		return err
	}
	out := cliCtx.String(OutputFlag.Name)
	if out == "" {
		out = filepath.Base(filepath.Clean(root)) + ".dpar"
	}
	opts, err := configOptions(cliCtx, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cliCtx.Context)
	defer cancel()

	a, stats, err := dictpress.Compress(ctx, root, opts...)
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return errs.File("compress", out, err)
	}
	n, err := a.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		return err
	}

	logger.Info("Archive written",
		"path", out,
		"files", stats.Files,
		"raw", stats.RawFiles,
		"binary", stats.BinaryFiles,
		"patterns", stats.DictionarySize,
		"original", stats.OriginalSize.HR(),
		"archive", datasize.ByteSize(n).HR(),
		"ratio", fmt.Sprintf("%.3f", float64(n)/float64(max(stats.OriginalSize, 1))),
		"took", stats.Duration.Round(time.Millisecond))
	return nil
}

func readArchive(path string) (*dictpress.Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.File("open", path, err)
	}
	defer f.Close()
	var a dictpress.Archive
	if _, err := a.ReadFrom(f); err != nil {
		return nil, err
	}
	return &a, nil
}

func decompressArchive(cliCtx *cli.Context) error {
	logger, err := setupLogger(cliCtx)
	if err != nil {
		return err
	}
	path, err := firstArg(cliCtx, "archive")
	if err != nil {
		return err
	}
	out := cliCtx.String(OutputFlag.Name)
	if out == "" {
		out = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	ctx, cancel := signalContext(cliCtx.Context)
	defer cancel()

	start := time.Now()
	a, err := readArchive(path)
	if err != nil {
		return err
	}
	files, err := a.RestoreContext(ctx, cliCtx.Int(ThreadsFlag.Name))
	if err != nil {
		return err
	}
	if err := dictpress.WriteFiles(out, files); err != nil {
		return err
	}
	logger.Info("Archive restored", "dir", out, "files", len(files), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func verifyArchive(cliCtx *cli.Context) error {
	logger, err := setupLogger(cliCtx)
	if err != nil {
		return err
	}
	path, err := firstArg(cliCtx, "archive")
	if err != nil {
		return err
	}
	a, err := readArchive(path)
	if err != nil {
		return err
	}
	mismatches, err := a.Verify()
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		logger.Error("Verification failed", "path", m.Path, "reason", m.Reason)
	}
	if len(mismatches) > 0 {
		return errs.Newf(errs.KindIntegrityCheck, "verify", "%d of %d files do not match the manifest", len(mismatches), len(a.Files))
	}
	logger.Info("Archive verified", "files", len(a.Files), "patterns", len(a.Dictionary))
	return nil
}

func analyzeDir(cliCtx *cli.Context) error {
	logger, err := setupLogger(cliCtx)
	if err != nil {
		return err
	}
	root, err := firstArg(cliCtx, "directory")
	if err != nil {
		return err
	}
	opts, err := configOptions(cliCtx, logger)
	if err != nil {
		return err
	}
	cfg := config.New(opts...)

	ctx, cancel := signalContext(cliCtx.Context)
	defer cancel()

	src := discovery.NewDir(root, int(cfg.BufferSize.Bytes()), int64(cfg.MmapThreshold.Bytes()))
	configured, err := pipeline.New(src, cfg).Configure()
	if err != nil {
		return err
	}
	analyzed, err := configured.Analyze(ctx)
	if err != nil {
		return err
	}

	total, text := analyzed.Files()
	patterns := analyzed.Patterns()
	w := cliCtx.App.Writer
	_, _ = fmt.Fprintf(w, "%d files, %d text, %d frequent patterns\n", total, text, len(patterns))
	for i, p := range patterns {
		if i >= cliCtx.Int(TopFlag.Name) {
			break
		}
		_, _ = fmt.Fprintf(w, "%8d  %q\n", p.Frequency, p.Pattern)
	}
	for _, s := range analyzed.Skipped() {
		logger.Warn("Skipped file", "path", s.Path, "err", s.Err)
	}
	return nil
}
