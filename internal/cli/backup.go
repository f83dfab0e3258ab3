// Copyright (c) 2026 Keygate Team
// Keygate - SSH authorized_keys resolution server
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/toeirei/keygate/internal/logging"
	"github.com/toeirei/keygate/internal/model"
)

// backupCmd represents the 'backup' command. It dumps the full database
// into a single Zstandard-compressed JSON file.
var backupCmd = &cobra.Command{
	Use:   "backup [output-file]",
	Short: "Create a compressed (zstd) JSON backup of the database",
	Long: `Dumps the entire contents of the Keygate database (accounts, groups,
keys, permissions and tokens) into a single, Zstandard-compressed JSON file.

If an output file is specified, '.zst' will be appended to the name if it's
not already present. If no output file is specified, a default filename
'keygate-backup-YYYY-MM-DD.json.zst' is used.

This file can be used for disaster recovery or for migrating to a different
database backend.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupConfig,
	RunE: func(_ *cobra.Command, args []string) error {
		var outputFile string
		if len(args) == 0 {
			outputFile = fmt.Sprintf("keygate-backup-%s.json.zst", time.Now().Format("2006-01-02"))
		} else {
			outputFile = args[0]
			if !strings.HasSuffix(outputFile, ".zst") {
				outputFile += ".zst"
			}
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		data, err := store.ExportAll()
		if err != nil {
			return fmt.Errorf("could not export database: %w", err)
		}
		if err := writeCompressedBackup(outputFile, data); err != nil {
			return err
		}
		logging.Infof("backup written to %s", outputFile)
		return nil
	},
}

// restoreCmd represents the 'restore' command. The restore is always
// destructive: the target database is wiped before the backup contents
// are inserted with their original ids.
var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file.zst>",
	Short: "Restore the database from a compressed JSON backup",
	Long: `Restores the entire Keygate database from a Zstandard-compressed JSON
backup file created by 'keygate backup'. All existing data is replaced.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: setupConfig,
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := readCompressedBackup(args[0])
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.ImportAll(data); err != nil {
			return fmt.Errorf("could not import backup: %w", err)
		}
		logging.Infof("restore from %s complete", args[0])
		return nil
	},
}

// writeCompressedBackup streams the JSON encoding directly into the zstd
// writer for memory efficiency.
func writeCompressedBackup(filename string, data *model.BackupData) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	zstdWriter, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	defer func() { _ = zstdWriter.Close() }()

	encoder := json.NewEncoder(zstdWriter)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("could not encode json to zstd writer: %w", err)
	}
	return nil
}

// readCompressedBackup reads and decodes a zstd-compressed JSON backup.
func readCompressedBackup(filename string) (*model.BackupData, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open backup file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return decodeCompressedBackup(file)
}

func decodeCompressedBackup(r io.Reader) (*model.BackupData, error) {
	zstdReader, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zstdReader.Close()

	var backupData model.BackupData
	if err := json.NewDecoder(zstdReader).Decode(&backupData); err != nil {
		return nil, fmt.Errorf("could not decode json from zstd reader: %w", err)
	}
	return &backupData, nil
}
