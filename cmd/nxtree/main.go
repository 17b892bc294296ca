package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nexusformat/nxtree/internal/logger"
	"github.com/nexusformat/nxtree/pkg/config"
	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/tree"
	"github.com/nexusformat/nxtree/pkg/tree/nxschema"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	path := flag.String("path", "", "Container file path (overrides store.native.path)")
	logLevel := flag.String("log-level", "", "Override configured log level (DEBUG, INFO, WARN, ERROR)")
	initDemo := flag.Bool("init-demo", false, "Create a demo scan in a new container")
	dump := flag.Bool("dump", false, "Print the tree structure")
	plottable := flag.Bool("plottable", false, "Resolve and print the default plottable data")
	validateTree := flag.Bool("validate", false, "Check group classes against the bundled definitions")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(*logLevel)
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	if *path != "" {
		cfg.Store.Native["path"] = *path
	}

	if !*initDemo && !*dump && !*plottable && !*validateTree {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()

	mode := container.ReadOnly
	if *initDemo {
		mode = container.Create
	}

	root, err := config.OpenTree(ctx, cfg, mode)
	if err != nil {
		log.Fatalf("Failed to open container: %v", err)
	}
	defer func() {
		if err := root.Close(ctx); err != nil {
			logger.Error("Close failed: %v", err)
		}
	}()

	if *initDemo {
		if err := buildDemoScan(ctx, root); err != nil {
			log.Fatalf("Failed to build demo scan: %v", err)
		}
		logger.Info("Demo scan written")
	}

	if *dump {
		dumpNode(root, "", 0)
	}

	if *plottable {
		if err := printPlottable(root); err != nil {
			log.Fatalf("Failed to resolve plottable data: %v", err)
		}
	}

	if *validateTree {
		report := nxschema.Default().Validate(&root.Group)
		for _, issue := range report.Issues {
			fmt.Println(issue)
		}
		if report.HasErrors() {
			os.Exit(1)
		}
		if len(report.Issues) == 0 {
			fmt.Println("ok")
		}
	}
}

// buildDemoScan writes a minimal scan: ten counts against ten axis points,
// marked as the default plottable signal.
func buildDemoScan(ctx context.Context, root *tree.Root) error {
	entry, err := root.AddGroup("entry")
	if err != nil {
		return err
	}
	if err := entry.SetClass("NXentry"); err != nil {
		return err
	}
	if err := entry.SetAttr(container.StringAttr("signal", "data")); err != nil {
		return err
	}
	if err := entry.SetAttr(container.StringAttr("axes", "x")); err != nil {
		return err
	}

	data, err := entry.AddField("data", container.DtypeInt64, container.Shape{10}, nil)
	if err != nil {
		return err
	}
	x, err := entry.AddField("x", container.DtypeInt64, container.Shape{10}, nil)
	if err != nil {
		return err
	}

	counts := make([]byte, 80)
	axis := make([]byte, 80)
	for i := 0; i < 10; i++ {
		container.ByteOrder.PutUint64(counts[i*8:], uint64(i+1))
		container.ByteOrder.PutUint64(axis[i*8:], uint64(i))
	}
	if err := data.SetValue(ctx, counts); err != nil {
		return err
	}
	if err := x.SetValue(ctx, axis); err != nil {
		return err
	}

	return root.Save(ctx)
}

// dumpNode prints one node and recurses into groups.
func dumpNode(n tree.Node, name string, depth int) {
	indent := strings.Repeat("  ", depth)

	switch v := n.(type) {
	case *tree.Field:
		if v.IsScalar() {
			fmt.Printf("%s%s  %s\n", indent, name, v.Dtype())
		} else {
			fmt.Printf("%s%s  %s%v\n", indent, name, v.Dtype(), []uint64(v.Shape()))
		}
	case *tree.Link:
		fmt.Printf("%s%s -> %s\n", indent, name, v.Target())
	default:
		g := groupOf(n)
		if class := g.Class(); class != "" {
			fmt.Printf("%s%s/  (%s)\n", indent, name, class)
		} else {
			fmt.Printf("%s%s/\n", indent, name)
		}
		for _, child := range g.Children() {
			dumpNode(child, child.Name(), depth+1)
		}
	}
}

func groupOf(n tree.Node) *tree.Group {
	switch v := n.(type) {
	case *tree.Root:
		return &v.Group
	case *tree.Group:
		return v
	}
	return nil
}

func printPlottable(root *tree.Root) error {
	plot, err := root.DefaultPlottable()
	if err != nil {
		return err
	}

	fmt.Printf("signal: %s  %s%v\n", plot.Signal.Path(), plot.Signal.Dtype(), []uint64(plot.Signal.Shape()))
	for i, axis := range plot.Axes {
		fmt.Printf("axis %d: %s  %s%v\n", i, axis.Path(), axis.Dtype(), []uint64(axis.Shape()))
	}
	return nil
}
