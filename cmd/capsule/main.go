package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/outofforest/capsule"
	"github.com/outofforest/capsule/blocks"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "capsule",
		Short:         "Inspect and edit capsule store files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		statCmd(),
		lsCmd(),
		getCmd(),
		setCmd(),
		rmCmd(),
		verifyCmd(),
	)
	return cmd
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <file>",
		Short: "Print object, free block and file length statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := capsule.OpenFile(args[0], true)
			if err != nil {
				return err
			}
			defer c.Close()

			store := c.Store()
			objects := store.Objects()
			fmt.Printf("objects:     %d\n", len(objects))
			fmt.Printf("free blocks: %d\n", len(store.FreeOffsets()))
			fmt.Printf("file length: %d\n", store.FileLen())
			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <file>",
		Short: "List stored names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := capsule.OpenFile(args[0], true)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, name := range c.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <file> <name>",
		Short: "Write the value stored under the name to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := capsule.OpenFile(args[0], true)
			if err != nil {
				return err
			}
			defer c.Close()

			value, exists, err := c.Get(args[1])
			if err != nil {
				return err
			}
			if !exists {
				return errors.Errorf("name not found: %s", args[1])
			}
			_, err = os.Stdout.Write(value)
			return errors.WithStack(err)
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <file> <name>",
		Short: "Store the value read from stdin under the name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := io.ReadAll(os.Stdin)
			if err != nil {
				return errors.WithStack(err)
			}

			c, err := capsule.OpenFile(args[0], false)
			if err != nil {
				return err
			}
			if err := c.Set(args[1], value); err != nil {
				_ = c.Close()
				return err
			}
			return c.Close()
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <file> <name>",
		Short: "Remove the name and its value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := capsule.OpenFile(args[0], false)
			if err != nil {
				return err
			}
			existed, err := c.Delete(args[1])
			if err != nil {
				_ = c.Close()
				return err
			}
			if err := c.Close(); err != nil {
				return err
			}
			if !existed {
				return errors.Errorf("name not found: %s", args[1])
			}
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check store invariants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := capsule.OpenFile(args[0], true)
			if err != nil {
				return err
			}
			defer c.Close()

			violations := verifyStore(c)
			for _, v := range violations {
				fmt.Println(v)
			}
			if len(violations) > 0 {
				return errors.Errorf("%d invariant violations", len(violations))
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func verifyStore(c *capsule.Capsule) []string {
	store := c.Store()
	var violations []string

	owners := map[int64]blocks.ObjectID{}
	for _, ob := range store.Objects() {
		if err := ob.Validate(); err != nil {
			violations = append(violations, err.Error())
		}
		for _, offset := range ob.Blocks {
			if owner, taken := owners[offset]; taken {
				violations = append(violations,
					fmt.Sprintf("block %d owned by both object %d and object %d", offset, owner, ob.ObjectID))
				continue
			}
			owners[offset] = ob.ObjectID
		}
	}

	for _, offset := range store.FreeOffsets() {
		if offset < 0 || offset%blocks.BlockSize != 0 {
			violations = append(violations, fmt.Sprintf("misaligned free offset: %d", offset))
		}
		if owner, taken := owners[offset]; taken {
			violations = append(violations,
				fmt.Sprintf("free offset %d aliases a block of object %d", offset, owner))
		}
	}

	if fileLen := store.FileLen(); fileLen%blocks.BlockSize != 0 {
		violations = append(violations, fmt.Sprintf("file length %d is not a block multiple", fileLen))
	}

	return violations
}
