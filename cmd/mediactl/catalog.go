package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/catalog-media/internal/occasions"
	product "github.com/angelmondragon/catalog-media/internal/products"
)

func newProductCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Seed and inspect catalog products",
	}

	var inactive bool
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a product and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			active := !inactive
			p, err := svc.Products.Create(cmd.Context(), product.CreateProductInput{Name: args[0], IsActive: &active})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"id": p.ID, "name": p.Name, "is_active": p.IsActive})
		},
	}
	create.Flags().BoolVar(&inactive, "inactive", false, "create the product inactive")

	get := &cobra.Command{
		Use:   "get PRODUCT_ID",
		Short: "Show a product and its cached primary image",
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
			p, err := svc.Products.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"id":            p.ID,
				"name":          p.Name,
				"is_active":     p.IsActive,
				"primary_image": p.PrimaryImage,
			})
		},
	}

	cmd.AddCommand(create, get)
	return cmd
}

type changeView struct {
	ProductID uuid.UUID   `json:"product_id"`
	Added     []uuid.UUID `json:"added"`
	Removed   []uuid.UUID `json:"removed"`
}

func newOccasionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "occasions",
		Short: "Manage product to occasion links",
	}

	mutate := func(use, short string, apply func(svc *occasions.Service, cmd *cobra.Command, productID uuid.UUID, ids []uuid.UUID) (occasions.Change, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " PRODUCT_ID [OCCASION_ID...]",
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				productID, err := parseID("product", args[0])
				if err != nil {
					return err
				}
				ids, err := parseIDs("occasion", args[1:])
				if err != nil {
					return err
				}
				svc, err := c.services(cmd.Context())
				if err != nil {
					return err
				}
				change, err := apply(svc.Occasions, cmd, productID, ids)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), changeView{ProductID: productID, Added: nonNil(change.Added), Removed: nonNil(change.Removed)})
			},
		}
	}

	set := mutate("set", "Replace the product's occasions with exactly the given set",
		func(svc *occasions.Service, cmd *cobra.Command, productID uuid.UUID, ids []uuid.UUID) (occasions.Change, error) {
			return svc.Replace(cmd.Context(), productID, ids)
		})
	link := mutate("link", "Add occasions to the product",
		func(svc *occasions.Service, cmd *cobra.Command, productID uuid.UUID, ids []uuid.UUID) (occasions.Change, error) {
			return svc.Link(cmd.Context(), productID, ids...)
		})
	unlink := mutate("unlink", "Remove occasions from the product",
		func(svc *occasions.Service, cmd *cobra.Command, productID uuid.UUID, ids []uuid.UUID) (occasions.Change, error) {
			return svc.Unlink(cmd.Context(), productID, ids...)
		})

	list := &cobra.Command{
		Use:   "list PRODUCT_ID",
		Short: "List the occasions linked to a product",
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
			ids, err := svc.Occasions.List(cmd.Context(), productID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), nonNil(ids))
		},
	}

	products := &cobra.Command{
		Use:   "products OCCASION_ID",
		Short: "List the products linked to an occasion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			occasionID, err := parseID("occasion", args[0])
			if err != nil {
				return err
			}
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := svc.Occasions.ProductsFor(cmd.Context(), occasionID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), nonNil(ids))
		},
	}

	cmd.AddCommand(set, link, unlink, list, products)
	return cmd
}

func newJobsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run maintenance jobs outside the cron schedule",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := c.cron(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs.Names())
		},
	}

	run := &cobra.Command{
		Use:   "run [JOB...]",
		Short: "Run the named jobs once, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := c.cron(cmd.Context())
			if err != nil {
				return err
			}
			if err := jobs.RunJobs(cmd.Context(), args...); err != nil {
				return err
			}
			ran := args
			if len(ran) == 0 {
				ran = jobs.Names()
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"jobs": ran, "status": "ok"})
		},
	}

	cmd.AddCommand(list, run)
	return cmd
}

func nonNil(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
