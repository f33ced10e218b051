package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const helpText = `
FlashKV shell commands.

Key commands:
  PUT key value       - Store value under key (in memory until .save)
  GET key             - Print the value of key
  DELETE key          - Remove key
  LIST                - List all keys

Store commands:
  .load               - Reload the store from flash, dropping unsaved changes
  .save               - Persist the store to flash
  .info               - Show region, usage and digest
  .stats              - Show operation statistics
  .digest             - Print the digest of the store region
  .export FILE        - Write a compressed snapshot of the region
  .import FILE        - Replace the region with a snapshot and reload
  .help               - Show this help
  .exit               - Save pending changes and exit

Values containing spaces are taken as the rest of the line.
A value prefixed with 0x is decoded from hex.
`

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("LIST"),
	readline.PcItem(".load"),
	readline.PcItem(".save"),
	readline.PcItem(".info"),
	readline.PcItem(".stats"),
	readline.PcItem(".digest"),
	readline.PcItem(".export", readline.PcItemDynamic(listFiles)),
	readline.PcItem(".import", readline.PcItemDynamic(listFiles)),
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell on the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cfg)
		if err != nil {
			return err
		}

		result, err := s.load()
		if err != nil {
			s.close()
			return fmt.Errorf("failed to load store: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "FlashKV (flashkv) version %s\n", Version)
		fmt.Fprintf(out, "Store %s: %d entries. Enter .help for usage hints.\n", result, s.eng.Len())

		runErr := runShell(s, out)
		if err := s.close(); err != nil {
			return err
		}
		return runErr
	},
}

// runShell reads lines until .exit, EOF or an interrupt on an empty line.
func runShell(s *session, out io.Writer) error {
	historyFile := filepath.Join(os.TempDir(), ".flashkv_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "flashkv> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		if s.dirty {
			rl.SetPrompt("flashkv*> ")
		} else {
			rl.SetPrompt("flashkv> ")
		}

		line, readErr := rl.Readline()
		if readErr != nil {
			if errors.Is(readErr, readline.ErrInterrupt) {
				if len(line) == 0 {
					return nil
				}
				continue
			}
			if errors.Is(readErr, io.EOF) {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		exit, err := execLine(s, line, out)
		if err != nil {
			fmt.Fprintf(out, "Error: %s\n", err)
		}
		if exit {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
	}
}

// execLine runs one shell line. It reports whether the shell should exit.
func execLine(s *session, line string, out io.Writer) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	parts := strings.Fields(line)
	cmd := strings.ToUpper(parts[0])

	if strings.HasPrefix(cmd, ".") {
		return execDot(s, strings.ToLower(cmd), parts[1:], out)
	}

	switch cmd {
	case "PUT":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: PUT key value")
		}
		// The value is everything after the key, spaces included.
		raw := strings.TrimSpace(line[len(parts[0]):])
		raw = strings.TrimSpace(raw[len(parts[1]):])
		value, err := parseValue(raw, strings.HasPrefix(raw, "0x"))
		if err != nil {
			return false, err
		}
		if err := s.put(parts[1], value); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Value stored")

	case "GET":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: GET key")
		}
		value, err := s.eng.Get(parts[1])
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, formatValue(value))

	case "DELETE":
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: DELETE key")
		}
		if err := s.delete(parts[1]); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Key deleted")

	case "LIST":
		printKeys(out, s, len(parts) > 1 && strings.EqualFold(parts[1], "values"))

	default:
		return false, fmt.Errorf("unknown command %q, enter .help for usage", parts[0])
	}
	return false, nil
}

func execDot(s *session, cmd string, args []string, out io.Writer) (bool, error) {
	switch cmd {
	case ".help":
		fmt.Fprint(out, helpText)

	case ".load":
		result, err := s.load()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Store %s: %d entries\n", result, s.eng.Len())

	case ".save":
		if err := s.save(); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Saved %d entries (%d bytes)\n", s.eng.Len(), s.eng.Size())

	case ".info":
		printInfo(out, s, "loaded")

	case ".stats":
		printStats(out, s.eng.GetStats())

	case ".digest":
		digest, err := flash.Digest(s.dev, s.cfg.Region)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%016x\n", digest)

	case ".export":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: .export FILE")
		}
		f, err := os.Create(args[0])
		if err != nil {
			return false, err
		}
		info, err := flash.Export(s.dev, s.cfg.Region, f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Exported %d bytes to %s\n", info.Size, args[0])

	case ".import":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: .import FILE")
		}
		f, err := os.Open(args[0])
		if err != nil {
			return false, err
		}
		defer f.Close()
		if err := importSnapshot(s, f); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Imported %d entries\n", s.eng.Len())

	case ".exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q, enter .help for usage", cmd)
	}
	return false, nil
}

func printStats(out io.Writer, stats map[string]interface{}) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(out, "Store Statistics:")
	for _, k := range keys {
		switch v := stats[k].(type) {
		case map[string]interface{}:
			if len(v) == 0 {
				continue
			}
			fmt.Fprintf(out, "  %s:\n", k)
			sub := make([]string, 0, len(v))
			for sk := range v {
				sub = append(sub, sk)
			}
			sort.Strings(sub)
			for _, sk := range sub {
				fmt.Fprintf(out, "    %s: %v\n", sk, v[sk])
			}
		case map[string]uint64:
			if len(v) == 0 {
				continue
			}
			fmt.Fprintf(out, "  %s:\n", k)
			sub := make([]string, 0, len(v))
			for sk := range v {
				sub = append(sub, sk)
			}
			sort.Strings(sub)
			for _, sk := range sub {
				fmt.Fprintf(out, "    %s: %d\n", sk, v[sk])
			}
		default:
			fmt.Fprintf(out, "  %s: %v\n", k, v)
		}
	}
}

func listFiles(string) []string {
	entries, err := os.ReadDir(".")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}
