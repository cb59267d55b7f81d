package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/catalog-media/internal/imagestore"
	"github.com/angelmondragon/catalog-media/internal/imaging"
	"github.com/angelmondragon/catalog-media/internal/ingest"
)

type removalView struct {
	ProductID   uuid.UUID   `json:"product_id"`
	ContentHash string      `json:"content_hash,omitempty"`
	AssetIDs    []uuid.UUID `json:"asset_ids"`
	Orphans     int         `json:"orphans"`
	Purged      int         `json:"purged"`
}

func viewRemoval(r *imagestore.Removal) removalView {
	return removalView{
		ProductID:   r.ProductID,
		ContentHash: r.ContentHash,
		AssetIDs:    r.AssetIDs,
		Orphans:     len(r.Orphans),
		Purged:      r.Purged,
	}
}

func newIngestCmd(c *cli) *cobra.Command {
	var (
		productID string
		primary   bool
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest image files for a product",
		Long: `Ingest one or more image files for a product. Bytes the product already
carries are a no-op; bytes stored for another product are reused.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errNoFiles
			}
			id, err := parseID("product", productID)
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			results := make([]*ingest.Result, 0, len(args))
			for i, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				res, err := svc.Ingest.Ingest(cmd.Context(), ingest.Upload{
					ProductID: id,
					Data:      data,
					// Only the first file can claim primary.
					IsPrimary: primary && i == 0,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results = append(results, res)
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&productID, "product", "", "product id")
	cmd.Flags().BoolVar(&primary, "primary", false, "make the first file the primary image")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func newDescribeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "describe PRODUCT_ID",
		Short: "Print the resolved image descriptors of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("product", args[0])
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			out, err := svc.Ingest.Describe(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newIndexCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "index CONTENT_HASH",
		Short: "List the products and size classes bound to a content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := imaging.ParseContentHash(args[0])
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			bindings, err := svc.Store.Index(cmd.Context(), hash)
			if err != nil {
				return err
			}
			type view struct {
				ProductID  uuid.UUID `json:"product_id"`
				AssetID    uuid.UUID `json:"asset_id"`
				SizeClass  string    `json:"size_class"`
				ImageIndex int       `json:"image_index"`
			}
			out := make([]view, 0, len(bindings))
			for _, b := range bindings {
				out = append(out, view{b.ProductID, b.AssetID, string(b.SizeClass), b.ImageIndex})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newSetPrimaryCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set-primary PRODUCT_ID ASSET_ID",
		Short: "Make an asset the product's primary image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID("product", args[0])
			if err != nil {
				return err
			}
			assetID, err := parseID("asset", args[1])
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			asset, err := svc.Primary.SetPrimary(cmd.Context(), productID, assetID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"product_id": productID,
				"asset_id":   asset.ID,
				"size_class": asset.SizeClass,
				"url":        asset.URL,
			})
		},
	}
}

func newEnsurePrimaryCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-primary PRODUCT_ID",
		Short: "Pick a primary image when the product has none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID("product", args[0])
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			asset, err := svc.Primary.EnsurePrimary(cmd.Context(), productID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"product_id": productID,
				"asset_id":   asset.ID,
				"size_class": asset.SizeClass,
			})
		},
	}
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove PRODUCT_ID CONTENT_HASH",
		Short: "Remove every size class of one image from a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID("product", args[0])
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			removal, err := svc.Ingest.RemoveImage(cmd.Context(), productID, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), viewRemoval(removal))
		},
	}
}

func newDeleteProductCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-product PRODUCT_ID",
		Short: "Delete a product with its images, links and carousel entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID("product", args[0])
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			removal, err := svc.Ingest.DeleteProduct(cmd.Context(), productID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), viewRemoval(removal))
		},
	}
}
