package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/pflag"

	"github.com/awesome-security/knoxcrypt"
)

// runShell implements the "shell" subcommand: an interactive REPL over a
// mounted image supporting ls, pwd, cd, rm, mkdir, add and exit.
func runShell(args []string) error {
	flags := pflag.NewFlagSet("shell", pflag.ContinueOnError)
	magic := flags.Int64("magic", -1, "block index of an alternative root folder to mount instead of the real one")
	if err := flags.Parse(args); err != nil {
		return err
	}

	positional := flags.Args()
	if len(positional) < 1 {
		fmt.Fprintln(os.Stderr, "usage: knoxcrypt shell <image-path> [flags]")
		flags.PrintDefaults()
		return fmt.Errorf("image path is required")
	}
	imagePath := positional[0]

	password, err := readPassword("teasafe password: ")
	if err != nil {
		return err
	}

	cfg := &knoxcrypt.Config{Path: imagePath, Password: password}
	if *magic >= 0 {
		cfg.RootBlock = uint64(*magic)
	}

	ts, err := knoxcrypt.OpenImage(cfg)
	if err != nil {
		return fmt.Errorf("opening %s: %w", imagePath, err)
	}
	defer ts.Close()

	sh := &shell{ts: ts, cwd: "/", out: os.Stdout}
	return sh.loop(os.Stdin)
}

type shell struct {
	ts  *knoxcrypt.TeaSafe
	cwd string
	out io.Writer
}

// loop reads one command per line until EOF, mirroring the original
// getline-and-dispatch REPL: a command that errors prints and the shell
// keeps going rather than exiting.
func (s *shell) loop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "ts$> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}
		if err := s.dispatch(line); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *shell) dispatch(line string) error {
	tokens := strings.Fields(line)
	switch tokens[0] {
	case "ls":
		target := s.cwd
		if len(tokens) > 1 {
			target = s.resolve(tokens[1])
		}
		return s.comLs(target)
	case "pwd":
		fmt.Fprintln(s.out, s.cwd)
		return nil
	case "rm":
		if len(tokens) < 2 {
			return fmt.Errorf("please specify path")
		}
		return s.comRm(s.resolve(tokens[1]))
	case "mkdir":
		if len(tokens) < 2 {
			return fmt.Errorf("please specify path")
		}
		return s.comMkdir(s.resolve(tokens[1]))
	case "add":
		if len(tokens) < 2 {
			return fmt.Errorf("please specify path")
		}
		return s.comAdd(tokens[1])
	case "cd":
		if len(tokens) < 2 {
			s.cwd = "/"
			return nil
		}
		dest := s.resolve(tokens[1])
		if !s.ts.FolderExists(dest) && dest != "/" {
			return fmt.Errorf("no such folder: %s", dest)
		}
		s.cwd = dest
		return nil
	default:
		return fmt.Errorf("unknown command %q", tokens[0])
	}
}

// resolve joins a user-typed path argument against the current directory,
// matching com_ls/com_rm/com_mkdir's "/" + path string concatenation.
func (s *shell) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Clean(path.Join(s.cwd, p))
}

func (s *shell) comLs(target string) error {
	entries, err := s.ts.ListFolder(target)
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "<F>"
		if e.Type == knoxcrypt.FolderEntry {
			kind = "<D>"
		}
		fmt.Fprintf(s.out, "%-30s%s\n", e.Name, kind)
	}
	return nil
}

func (s *shell) comRm(target string) error {
	info, err := s.ts.GetInfo(target)
	if err != nil {
		return err
	}
	if info.Type == knoxcrypt.FileEntry {
		return s.ts.RemoveFile(target)
	}
	// The shell's "rm" mirrors the original Teashell.cpp's com_rm, which
	// always passes FolderRemovalType::Recursive.
	return s.ts.RemoveFolder(target, knoxcrypt.Recursive)
}

func (s *shell) comMkdir(target string) error {
	return s.ts.AddFolder(target)
}

// comAdd imports a file from the host filesystem, using its base name as
// the entry name in the current directory — matching com_add's
// "file://<path>" resource prefix convention.
func (s *shell) comAdd(resource string) error {
	hostPath := strings.TrimPrefix(resource, "file://")
	host, err := os.Open(hostPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", hostPath, err)
	}
	defer host.Close()

	dest := s.resolve(path.Base(hostPath))
	if err := s.ts.AddFile(dest); err != nil {
		return err
	}
	f, err := s.ts.OpenFile(dest, knoxcrypt.OpenDisposition{Access: knoxcrypt.ReadWrite})
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, host); err != nil {
		return fmt.Errorf("copying %s: %w", hostPath, err)
	}

	fmt.Fprintf(s.out, "Added file %s\n", dest)
	return nil
}
