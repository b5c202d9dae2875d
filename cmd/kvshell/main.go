// Command kvshell is a thin line-oriented shell over a bptreekv.Tree. It is
// explicitly out of scope per spec.md §1: no argument parsing depth, no
// terminal UI, one command per line mapped one-to-one onto a library
// operation, per spec.md §6's CLI surface.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bptreekv/bptreekv"
	"github.com/bptreekv/bptreekv/internal/pager"
	"gopkg.in/yaml.v3"
)

var (
	flagDB     = flag.String("db", "", "path to the database file")
	flagCreate = flag.Bool("c", false, "create the database if it does not exist")
	flagConfig = flag.String("config", "", "optional YAML config overriding page size / cache / branching factor")
)

// fileConfig is the subset of bptreekv.Config a user can set from a YAML
// file, grounded on the teacher's own gopkg.in/yaml.v3 dependency.
type fileConfig struct {
	PageSize        int    `yaml:"page_size"`
	MaxCachePages   int    `yaml:"max_cache_pages"`
	BranchingFactor uint32 `yaml:"branching_factor"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config: %w", err)
	}
	return fc, nil
}

func main() {
	flag.Parse()
	if *flagDB == "" {
		fmt.Fprintln(os.Stderr, "usage: kvshell -db PATH [-c] [-config FILE]")
		os.Exit(2)
	}

	fc, err := loadFileConfig(*flagConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvshell:", err)
		os.Exit(1)
	}

	cfg := bptreekv.Config{
		DBPath:          *flagDB,
		PageSize:        fc.PageSize,
		MaxCachePages:   fc.MaxCachePages,
		BranchingFactor: fc.BranchingFactor,
		Create:          *flagCreate,
	}

	tree, err := bptreekv.Open[string, string](cfg, bptreekv.StringCodec{}, bptreekv.StringCodec{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvshell: open:", err)
		os.Exit(1)
	}
	defer tree.Close()

	runShell(tree)
}

func runShell(tree *bptreekv.Tree[string, string]) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := dispatch(tree, line); err != nil {
			fmt.Fprintln(os.Stderr, "ERR:", err)
		}
	}
}

// dispatch maps one line onto one library operation, per spec.md §6's
// one-to-one CLI-to-library-operation contract.
func dispatch(tree *bptreekv.Tree[string, string], line string) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "get":
		v, found, err := tree.Get(arg(args, 0))
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(none)")
			return nil
		}
		fmt.Println(v)

	case "insert":
		prev, had, err := tree.Insert(arg(args, 0), arg(args, 1))
		if err != nil {
			return err
		}
		if had {
			fmt.Println(prev)
		} else {
			fmt.Println("(none)")
		}

	case "delete":
		v, found, err := tree.Delete(arg(args, 0))
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(none)")
			return nil
		}
		fmt.Println(v)

	case "contains":
		found, err := tree.Contains(arg(args, 0))
		if err != nil {
			return err
		}
		fmt.Println(found)

	case "count":
		n, err := tree.Count()
		if err != nil {
			return err
		}
		fmt.Println(n)

	case "clear":
		return tree.Clear()

	case "keys", "values", "entries":
		return printScan(tree, cmd)

	case "verify":
		res, err := tree.Verify()
		if err != nil {
			return err
		}
		if res.OK {
			fmt.Println("Ok")
			return nil
		}
		for _, v := range res.Violations {
			fmt.Println("Err:", v)
		}

	case "nodes":
		return printNodes(tree)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func printScan(tree *bptreekv.Tree[string, string], mode string) error {
	cur := tree.Entries()
	for {
		ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch mode {
		case "keys":
			k, err := cur.Key()
			if err != nil {
				return err
			}
			fmt.Println(k)
		case "values":
			v, err := cur.Value()
			if err != nil {
				return err
			}
			fmt.Println(v)
		default:
			k, v, err := cur.Entry()
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", k, v)
		}
	}
}

func printNodes(tree *bptreekv.Tree[string, string]) error {
	return tree.Nodes(func(n pager.NodeSummary) bool {
		kind := "branch"
		if n.IsLeaf {
			kind = "leaf"
		}
		fmt.Printf("%d\t%s\tdepth=%d\tentries=%d\n", n.PageID, kind, n.Depth, n.EntryCount)
		return true
	})
}
