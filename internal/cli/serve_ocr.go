package cli

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/gardenbot/internal/grpcclient"
	"github.com/GriffinCanCode/gardenbot/internal/ocr"
	"github.com/GriffinCanCode/gardenbot/internal/trace"
)

const defaultOCRListen = ":50051"

func newServeOCRCommand(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve-ocr",
		Short: "Serve the local tesseract recognizer over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg.SlogLevel())

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			rec := ocr.NewTesseract(ocr.Options{
				TesseractPath: cfg.TesseractPath,
				MagickPath:    cfg.MagickPath,
				Enhance:       cfg.EnhanceText,
			})
			return serveOCR(cmd.Context(), lis, rec)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", defaultOCRListen, "gRPC listen address")
	return cmd
}

func serveOCR(ctx context.Context, lis net.Listener, rec ocr.Recognizer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := grpcclient.NewServer(rec)
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	trace.Logger(ctx).Info("recognizer serving", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
