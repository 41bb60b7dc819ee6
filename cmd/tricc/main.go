// Command tricc runs the TriC pipeline on one file and prints what each
// stage produced: linked source, tokens, AST, assembly and the listing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/goforj/godump"

	"triton/pkg/config"
)

const testSource = `import io

global base: long = 10;

func main() {
    var x: long = base + 32;
    print_int(x);
    newline();
    return x;
}
`

func main() {
	cfg := config.NewConfig()
	stages := flag.String("stages", "source,tokens,ast,asm,listing", "comma-separated stages to print")
	flag.StringVar(&cfg.LibDir, "lib", "", "directory of extra TriC libraries")
	flag.BoolVar(&cfg.KeepDead, "keep-dead", false, "keep functions unreachable from main")
	flag.Parse()

	src := testSource
	if flag.NArg() > 0 {
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
	}
	show := parseStages(*stages)

	out, err := compile(src, cfg)
	if show["source"] && out.Source != "" {
		fmt.Printf("Source:\n%s\n\n", out.Source)
	}
	if show["tokens"] && len(out.Tokens) > 0 {
		fmt.Printf("Tokens (%d)\n", len(out.Tokens))
		for _, tok := range out.Tokens {
			fmt.Println(" ", tok)
		}
		fmt.Println()
	}
	if show["ast"] && out.AST != nil {
		fmt.Println("AST")
		fmt.Println(godump.DumpStr(out.AST))
	}
	if show["asm"] && out.Assembly != "" {
		fmt.Println("Generated Assembly")
		fmt.Print(out.Assembly)
		fmt.Println()
	}
	if show["listing"] && out.Program != nil {
		fmt.Println("Listing")
		if err := out.Program.WriteListing(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "listing error:", err)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
