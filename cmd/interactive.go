package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"songshare/internal/api"
	"songshare/internal/catalog"
)

// controller is what the prompt needs from the application.
type controller interface {
	api.Controller
	SongsDir() string
	SetSongsDir(ctx context.Context, dir string) ([]catalog.Entry, error)
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Available commands:")
	fmt.Fprintln(w, "  connect <host:port>        - Connect to a peer.")
	fmt.Fprintln(w, "  refresh                    - Ask the peer for its catalog.")
	fmt.Fprintln(w, "  local                      - List the local catalog.")
	fmt.Fprintln(w, "  remote                     - List the peer's catalog.")
	fmt.Fprintln(w, "  diff                       - Compare the peer's catalog with the local one.")
	fmt.Fprintln(w, "  download <id>...           - Download songs from the peer.")
	fmt.Fprintln(w, "  missing                    - Download every song the local catalog lacks.")
	fmt.Fprintln(w, "  rescan [dir]               - Rescan the songs directory, optionally switching to dir.")
	fmt.Fprintln(w, "  disconnect                 - Close the connection to the peer.")
	fmt.Fprintln(w, "  status                     - Show the connection and transfers.")
	fmt.Fprintln(w, "  quit                       - Exit the program.")
	fmt.Fprintln(w, "  help                       - Show this help message.")
}

// processCommand runs one prompt line and reports whether the user asked
// to quit.
func processCommand(ctx context.Context, ctrl controller, w io.Writer, input string) bool {
	args := strings.Fields(input)
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "connect":
		if len(args) != 2 {
			fmt.Fprintln(w, "Usage: connect <host:port>")
			return false
		}
		fmt.Fprintf(w, "Waiting for %s to accept...\n", args[1])
		ok, err := ctrl.Connect(ctx, args[1])
		switch {
		case err != nil:
			fmt.Fprintf(w, "Error: %v\n", err)
		case !ok:
			fmt.Fprintln(w, "Peer declined the connection")
		default:
			fmt.Fprintf(w, "Connected to %s\n", args[1])
		}

	case "refresh":
		report(w, ctrl.RequestRemoteCatalog(), "Catalog requested")

	case "local":
		printEntries(w, ctrl.LocalCatalog())

	case "remote":
		printEntries(w, ctrl.RemoteCatalog())

	case "diff":
		printMatches(w, ctrl.Matches().Remote)

	case "download":
		if len(args) < 2 {
			fmt.Fprintln(w, "Usage: download <id>...")
			return false
		}
		ids := make([]uint64, 0, len(args)-1)
		for _, a := range args[1:] {
			id, err := strconv.ParseUint(a, 10, 64)
			if err != nil {
				fmt.Fprintf(w, "Invalid song id %q\n", a)
				return false
			}
			ids = append(ids, id)
		}
		report(w, ctrl.RequestDownload(ids), fmt.Sprintf("Requested %d song(s)", len(ids)))

	case "missing":
		n, err := ctrl.RequestMissing()
		switch {
		case err != nil:
			fmt.Fprintf(w, "Error: %v\n", err)
		case n == 0:
			fmt.Fprintln(w, "Nothing is missing")
		default:
			fmt.Fprintf(w, "Requested %d missing song(s)\n", n)
		}

	case "rescan":
		dir := ctrl.SongsDir()
		if len(args) > 1 {
			dir = strings.Join(args[1:], " ")
		}
		entries, err := ctrl.SetSongsDir(ctx, dir)
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(w, "Found %d song(s) in %s\n", len(entries), dir)

	case "disconnect":
		ctrl.Disconnect()

	case "status":
		printStatus(w, ctrl)

	case "quit", "exit":
		fmt.Fprintln(w, "Exiting songshare...")
		return true

	case "help":
		printHelp(w)

	default:
		fmt.Fprintln(w, "Unknown command. Type 'help' for a list of commands.")
	}
	return false
}

func report(w io.Writer, err error, success string) {
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, success)
}

func shortChecksum(sum string) string {
	if len(sum) > 8 {
		return sum[:8]
	}
	return sum
}

func printEntries(w io.Writer, entries []catalog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No songs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCHECKSUM")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.ID, e.Name, shortChecksum(e.Checksum))
	}
	tw.Flush()
}

func printMatches(w io.Writer, matches []catalog.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No remote songs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLOCAL")
	for _, m := range matches {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Entry.ID, m.Entry.Name, m.Kind)
	}
	tw.Flush()
}

func printStatus(w io.Writer, ctrl controller) {
	st := ctrl.Status()
	if st.Connected {
		fmt.Fprintf(w, "Connected to %s (session %s)\n", st.Peer, st.Session)
	} else {
		fmt.Fprintln(w, "Not connected")
	}
	fmt.Fprintf(w, "Songs directory: %s (%d local, %d remote)\n", st.SongsDir, st.LocalSongs, st.RemoteSongs)
	for _, tr := range st.Transfers {
		fmt.Fprintf(w, "  %s %s %s %d/%d bytes\n", tr.Direction, tr.Status, tr.FileInfo.Filename, tr.BytesTransferred, tr.FileInfo.Size)
	}
}
