// Package main provides the dynamite command line: training the sequence
// classifier on synthetic or tokenized text data, and the tree batching demo.
package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

func usage() {
	fmt.Fprintf(os.Stderr, "dynamite %s - dynamic batching for deferred autodiff graphs\n\n", version)
	fmt.Fprintln(os.Stderr, "Usage: dynamite <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  train      Train the RNN sequence classifier")
	fmt.Fprintln(os.Stderr, "  tree       Compare batched and unbatched execution on random trees")
	fmt.Fprintln(os.Stderr, "  version    Show version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Run 'dynamite <command> -help' for the flags of a command.")
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "train":
		err = runTrain(args)
	case "tree":
		err = runTree(args)
	case "version":
		fmt.Printf("dynamite %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
