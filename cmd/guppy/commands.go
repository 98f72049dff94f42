package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/fortiblox/guppy/pkg/arraystore"
	"github.com/fortiblox/guppy/pkg/vm"
	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

func cmdVerify(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: verify FILE")
	}
	code, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cfg, err := kernelConfig()
	if err != nil {
		return err
	}
	sum, err := bytecode.Verify(code, cfg.Limits(0))
	if err != nil {
		return err
	}
	fmt.Printf("ok: %d bytes, %d instructions, %d in subprograms, %d maps\n",
		len(code), sum.Instructions, sum.SubInstructions, sum.Maps)
	return nil
}

func cmdDisassemble(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: dis FILE")
	}
	code, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	text, err := bytecode.Disassemble(code)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

func cmdProgram(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: program put|get|list")
	}
	programs, err := openPrograms()
	if err != nil {
		return err
	}
	defer programs.Close()

	switch args[0] {
	case "put":
		fs := flag.NewFlagSet("program put", flag.ContinueOnError)
		name := fs.String("name", "", "Name to bind to the program")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("usage: program put [-name N] FILE")
		}
		code, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			return err
		}
		cfg, err := kernelConfig()
		if err != nil {
			return err
		}
		if _, err := bytecode.Verify(code, cfg.Limits(0)); err != nil {
			return fmt.Errorf("program rejected: %w", err)
		}
		id, err := programs.Put(*name, code)
		if err != nil {
			return err
		}
		fmt.Println(id)

	case "get":
		if len(args) < 2 || len(args) > 3 {
			return errors.New("usage: program get REF [FILE]")
		}
		rec, err := programs.Resolve(args[1])
		if err != nil {
			return err
		}
		if len(args) == 3 {
			return os.WriteFile(args[2], rec.Code, 0o644)
		}
		_, err = os.Stdout.Write(rec.Code)
		return err

	case "list":
		infos, err := programs.List()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSIZE\tCREATED")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.ID, info.Name, info.Size, info.Created.Format(time.RFC3339))
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown program command %q", args[0])
	}
	return nil
}

func cmdArray(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: array put|get|list")
	}
	arrays, err := openArrays()
	if err != nil {
		return err
	}
	defer arrays.Close()

	switch args[0] {
	case "put":
		if len(args) != 3 {
			return errors.New("usage: array put NAME FILE")
		}
		data, err := readArrayFile(args[2])
		if err != nil {
			return err
		}
		digest, err := arrays.SetArray(args[1], data)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d elements, sha3 %s\n", args[1], len(data), digest)

	case "get":
		if len(args) != 2 {
			return errors.New("usage: array get NAME")
		}
		data, err := arrays.GetArray(args[1])
		if err != nil {
			return err
		}
		return printArray(os.Stdout, data, isTerminal(os.Stdout))

	case "list":
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tLEN\tDIGEST")
		err := arrays.IterateArrays(func(info arraystore.Info) error {
			_, err := fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Name, info.Len, info.Digest)
			return err
		})
		if err != nil {
			return err
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown array command %q", args[0])
	}
	return nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	groups := fs.Int("groups", 0, "Number of groups (0 = one per vector of the first array)")
	persist := fs.Bool("persist", false, "Write the arrays back to the store")
	timeout := fs.Duration("timeout", 0, "Abort groups not yet started after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: run [-groups N] [-persist] PROGRAM ARRAY...")
	}

	kernel, err := newKernel()
	if err != nil {
		return err
	}
	code, err := loadProgram(fs.Arg(0))
	if err != nil {
		return err
	}

	store, err := openArrays()
	if err != nil {
		return err
	}
	defer store.Close()

	names := fs.Args()[1:]
	arrays := make([][]float32, len(names))
	loaded := make(map[string][]float32, len(names))
	for i, name := range names {
		data, ok := loaded[name]
		if !ok {
			if data, err = store.GetArray(name); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			loaded[name] = data
		}
		arrays[i] = data
	}

	n := *groups
	if n == 0 && len(arrays) > 0 {
		if n, err = vm.DefaultGroups(len(arrays[0]), kernel.Config().VectorWidth); err != nil {
			return fmt.Errorf("pass -groups explicitly: %w", err)
		}
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	stats, err := kernel.Launch(ctx, code, arrays, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "groups=%d instructions=%d elements=%d maps=%d elapsed=%s\n",
		stats.Groups, stats.Instructions, stats.Elements, stats.MapCalls, stats.Duration)

	if *persist {
		for name, data := range loaded {
			if _, err := store.SetArray(name, data); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	}
	tty := isTerminal(os.Stdout)
	for i, name := range names {
		fmt.Printf("%s:\n", name)
		if err := printArray(os.Stdout, arrays[i], tty); err != nil {
			return err
		}
	}
	return nil
}

// loadProgram reads ref as a file when one exists and resolves it in the
// program store otherwise.
func loadProgram(ref string) ([]byte, error) {
	if _, err := os.Stat(ref); err == nil {
		return os.ReadFile(ref)
	}
	programs, err := openPrograms()
	if err != nil {
		return nil, err
	}
	defer programs.Close()
	rec, err := programs.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return rec.Code, nil
}

// readArrayFile reads raw little-endian float32 from .f32 and .bin files and
// whitespace or comma separated numbers from anything else.
func readArrayFile(path string) ([]float32, error) {
	if strings.HasSuffix(path, ".f32") || strings.HasSuffix(path, ".bin") {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return arraystore.DecodeFloats(raw)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseFloats(f)
}

func parseFloats(r io.Reader) ([]float32, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	out := []float32{}
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		for _, field := range strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		}) {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, float32(v))
		}
	}
	return out, sc.Err()
}

// printArray writes one value per line, or an indexed table of eight
// columns when the output is a terminal.
func printArray(w io.Writer, data []float32, table bool) error {
	if !table {
		bw := bufio.NewWriter(w)
		for _, v := range data {
			fmt.Fprintln(bw, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		return bw.Flush()
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for i := 0; i < len(data); i += 8 {
		fmt.Fprintf(tw, "%d:\t", i)
		for j := i; j < i+8 && j < len(data); j++ {
			fmt.Fprintf(tw, "%s\t", strconv.FormatFloat(float64(data[j]), 'g', 6, 32))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
