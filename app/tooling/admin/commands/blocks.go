package commands

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	blocksAfter int64
	blocksLimit int
	blocksID    string
	blocksFull  bool
)

var blocksCmd = &cobra.Command{
	Use:   "blocks [height]",
	Short: "List blocks after a height, or print a block by height or id",
	Args:  cobra.MaximumNArgs(1),
	RunE:  blocksRun,
}

func init() {
	blocksCmd.Flags().Int64Var(&blocksAfter, "after", -1, "List the blocks above this height.")
	blocksCmd.Flags().IntVar(&blocksLimit, "limit", 20, "Maximum blocks to list.")
	blocksCmd.Flags().StringVar(&blocksID, "id", "", "Print the block with this id.")
	blocksCmd.Flags().BoolVar(&blocksFull, "full", false, "Include the stored block data.")
	rootCmd.AddCommand(blocksCmd)
}

func blocksRun(cmd *cobra.Command, args []string) error {
	var url string
	var single bool

	switch {
	case blocksID != "":
		url = fmt.Sprintf("%s/v1/blocks/id/%s", publicURL, blocksID)
		single = true

	case len(args) == 1:
		if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("height %q: %w", args[0], err)
		}
		url = fmt.Sprintf("%s/v1/blocks/height/%s", publicURL, args[0])
		single = true

	case blocksAfter >= 0:
		url = fmt.Sprintf("%s/v1/blocks/after/%d?limit=%d", publicURL, blocksAfter, blocksLimit)

	default:
		url = publicURL + "/v1/blocks/last"
		single = true
	}

	if single {
		var blk map[string]any
		if err := call(http.MethodGet, url, nil, &blk); err != nil {
			return err
		}
		return printJSON(cmd, trim(blk))
	}

	var blks []map[string]any
	if err := call(http.MethodGet, url, nil, &blks); err != nil {
		return err
	}
	for i := range blks {
		blks[i] = trim(blks[i])
	}

	return printJSON(cmd, blks)
}

func trim(blk map[string]any) map[string]any {
	if !blocksFull {
		delete(blk, "data")
	}
	return blk
}
