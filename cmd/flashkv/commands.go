package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Store a value under a key and save the store",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := valueArg(cmd, args[1:])
			if err != nil {
				return err
			}
			return withStore(func(s *session) error {
				if err := s.put(args[0], value); err != nil {
					return err
				}
				if err := s.save(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %d bytes under %q\n", len(value), args[0])
				return nil
			})
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asHex, _ := cmd.Flags().GetBool("hex")
			return withStore(func(s *session) error {
				value, err := s.eng.Get(args[0])
				if err != nil {
					return err
				}
				if asHex {
					fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(value))
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), formatValue(value))
				}
				return nil
			})
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Remove a key and save the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *session) error {
				if err := s.delete(args[0]); err != nil {
					return err
				}
				if err := s.save(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", args[0])
				return nil
			})
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List the keys in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			withValues, _ := cmd.Flags().GetBool("values")
			return withStore(func(s *session) error {
				printKeys(cmd.OutOrStdout(), s, withValues)
				return nil
			})
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show region geometry, usage and image digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.load()
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "load: %s (%v)\n", result, err)
				return nil
			}
			printInfo(cmd.OutOrStdout(), s, result.String())
			return nil
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Write a compressed snapshot of the store region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer s.close()

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			info, err := flash.Export(s.dev, s.cfg.Region, f)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d bytes, digest %016x\n", info.Size, info.Digest)
			return nil
		},
	}

	importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Replace the store region with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer s.close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if err := importSnapshot(s, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries\n", s.eng.Len())
			return nil
		},
	}
)

func init() {
	putCmd.Flags().Bool("hex", false, wrapString("Decode the value from hex"))
	putCmd.Flags().String("file", "", wrapString("Read the value from a file instead of the command line"))
	getCmd.Flags().Bool("hex", false, wrapString("Print the value as hex"))
	listCmd.Flags().Bool("values", false, wrapString("Print values next to keys"))
}

// withStore opens and loads the store, runs fn and closes the session.
func withStore(fn func(s *session) error) error {
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	if err := s.mustLoad(); err != nil {
		s.close()
		return err
	}

	if err := fn(s); err != nil {
		s.close()
		return err
	}
	return s.close()
}

// importSnapshot writes a snapshot into the region, checks that it loads and
// records it in the manifest.
func importSnapshot(s *session, r io.Reader) error {
	if _, err := flash.Import(s.dev, s.cfg.Region, r); err != nil {
		return err
	}
	if err := s.mustLoad(); err != nil {
		return err
	}
	return s.recordSave()
}

// valueArg returns the value from --file, the argument or --hex decoding.
func valueArg(cmd *cobra.Command, args []string) ([]byte, error) {
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("give either a value or --file, not both")
		}
		return os.ReadFile(path)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("missing value")
	}
	asHex, _ := cmd.Flags().GetBool("hex")
	return parseValue(args[0], asHex)
}

// parseValue decodes a command line value, from hex when asHex is set.
func parseValue(s string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(s), nil
	}
	value, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex value: %w", err)
	}
	return value, nil
}

// formatValue prints printable UTF-8 as is and anything else as hex.
func formatValue(value []byte) string {
	if !utf8.Valid(value) {
		return "0x" + hex.EncodeToString(value)
	}
	for _, r := range string(value) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return "0x" + hex.EncodeToString(value)
		}
	}
	return string(value)
}

func printKeys(w io.Writer, s *session, withValues bool) {
	keys := s.eng.Keys()
	sort.Strings(keys)
	for _, k := range keys {
		if !withValues {
			fmt.Fprintln(w, k)
			continue
		}
		value, _ := s.eng.Get(k)
		fmt.Fprintf(w, "%s: %s\n", k, formatValue(value))
	}
	fmt.Fprintf(w, "%d keys\n", len(keys))
}

func printInfo(w io.Writer, s *session, result string) {
	region := s.cfg.Region
	fmt.Fprintf(w, "region:   %s\n", region)
	fmt.Fprintf(w, "load:     %s\n", result)
	fmt.Fprintf(w, "entries:  %d\n", s.eng.Len())
	fmt.Fprintf(w, "size:     %d / %d bytes (%d free)\n", s.eng.Size(), s.eng.Capacity(), s.eng.Free())

	if digest, err := flash.Digest(s.dev, region); err == nil {
		fmt.Fprintf(w, "digest:   %016x\n", digest)
	} else {
		fmt.Fprintf(w, "digest:   error: %v\n", err)
	}
	if s.manifest != nil {
		if last, ok := s.manifest.LastDigest(); ok {
			fmt.Fprintf(w, "recorded: %016x\n", last)
		}
	}
}
