package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pcrsearch/internal/embeddings"
)

var (
	forceDownload bool
	onnxVersion   string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
	initCmd.Flags().StringVar(&onnxVersion, "onnx-version", embeddings.DefaultONNXRuntimeVersion, "ONNX runtime release to install")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Download the ONNX runtime for local embeddings",
	Long: `Download the ONNX runtime library used by the fastembed embeddings
provider. The library is installed to:
  ~/.local/share/pcrd/lib/

If the ONNX_PATH environment variable is set, that path takes precedence.

Examples:
  # Install the runtime
  pcrctl init

  # Force re-download even if already installed
  pcrctl init --force`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceDownload {
		if path := embeddings.ONNXLibraryPath(); path != "" {
			cmd.Printf("ONNX runtime already installed at: %s\n", path)
			cmd.Println("Use --force to re-download.")
			return nil
		}
	}

	cmd.Printf("Downloading ONNX runtime v%s...\n", onnxVersion)
	path, err := embeddings.DownloadONNXRuntime(cmd.Context(), onnxVersion, embeddings.ONNXInstallDir())
	if err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}

	cmd.Printf("Successfully installed ONNX runtime to: %s\n", path)
	return nil
}
