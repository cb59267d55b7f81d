package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/catalog-media/internal/carousel"
	"github.com/angelmondragon/catalog-media/pkg/db/models"
)

type entryView struct {
	ID            uuid.UUID  `json:"id"`
	ProductID     uuid.UUID  `json:"product_id"`
	ImageAssetID  *uuid.UUID `json:"image_asset_id,omitempty"`
	Active        bool       `json:"active"`
	DisplayOrder  int        `json:"display_order"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func viewEntry(e *models.CarouselEntry) entryView {
	return entryView{
		ID:            e.ID,
		ProductID:     e.ProductID,
		ImageAssetID:  e.ImageAssetID,
		Active:        e.Active,
		DisplayOrder:  e.DisplayOrder,
		ActivatedAt:   e.ActivatedAt,
		DeactivatedAt: e.DeactivatedAt,
	}
}

func newCarouselCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "carousel",
		Short: "Curate the homepage carousel",
	}
	cmd.AddCommand(
		newCarouselActivateCmd(c),
		newCarouselDeactivateCmd(c),
		newCarouselListCmd(c),
		newCarouselFeedCmd(c),
	)
	return cmd
}

func newCarouselActivateCmd(c *cli) *cobra.Command {
	var (
		entryID   string
		productID string
		imageID   string
		order     int
	)
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate an entry, appending it unless --order is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref carousel.EntryRef
			if entryID != "" {
				id, err := parseID("entry", entryID)
				if err != nil {
					return err
				}
				ref.EntryID = &id
			}
			if productID != "" {
				id, err := parseID("product", productID)
				if err != nil {
					return err
				}
				ref.ProductID = id
			}
			if imageID != "" {
				id, err := parseID("image", imageID)
				if err != nil {
					return err
				}
				ref.ImageAssetID = &id
			}
			var slot *int
			if cmd.Flags().Changed("order") {
				slot = &order
			}

			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := svc.Carousel.Activate(cmd.Context(), ref, slot)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), viewEntry(entry))
		},
	}
	cmd.Flags().StringVar(&entryID, "entry", "", "existing entry id")
	cmd.Flags().StringVar(&productID, "product", "", "product id for a new entry")
	cmd.Flags().StringVar(&imageID, "image", "", "image asset id; defaults to the product's primary image")
	cmd.Flags().IntVar(&order, "order", 0, "display slot; later entries shift down")
	cmd.MarkFlagsOneRequired("entry", "product")
	return cmd
}

func newCarouselDeactivateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate ENTRY_ID",
		Short: "Deactivate an entry without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("entry", args[0])
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := svc.Carousel.Deactivate(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), viewEntry(entry))
		},
	}
}

func newCarouselListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active entries in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			out := []entryView{}
			for entry, err := range svc.Carousel.List(cmd.Context()) {
				if err != nil {
					return err
				}
				out = append(out, viewEntry(&entry))
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newCarouselFeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Print the public carousel feed with resolved image urls",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			feed, err := svc.Carousel.Feed(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), feed)
		},
	}
}
