package app

import (
	"context"
	"errors"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

// ContentTree est la projection Product→Module→Page renvoyée à l'UI.
// Les branches en échec portent leur erreur au lieu d'avorter l'ensemble.
type ContentTree struct {
	AccountID string        `json:"accountId"`
	Products  []ProductNode `json:"products"`
}

type ProductNode struct {
	domain.Product
	Modules []ModuleNode `json:"modules"`
	Err     string       `json:"error,omitempty"`
}

type ModuleNode struct {
	domain.Module
	Locked bool       `json:"locked"`
	Nodes  []PageNode `json:"pageNodes"`
	Err    string     `json:"error,omitempty"`
}

type PageNode struct {
	domain.Page
	Locked        bool   `json:"locked"`
	RemainingDays int    `json:"remainingDays,omitempty"`
	Err           string `json:"error,omitempty"`
}

// TreeResolver construit l'arbre de contenu en pilotant l'adapter de la
// plateforme. Projection en lecture seule et répétable : sans changement
// côté plateforme, deux appels rendent des arbres identiques.
type TreeResolver struct {
	accounts *AccountService
	registry ports.AdapterRegistry
	now      func() time.Time
}

func NewTreeResolver(accounts *AccountService, registry ports.AdapterRegistry) *TreeResolver {
	return &TreeResolver{accounts: accounts, registry: registry, now: time.Now}
}

func (r *TreeResolver) WithClock(now func() time.Time) *TreeResolver {
	r.now = now
	return r
}

// EnumerateContent reflète l'état de verrouillage au moment de l'appel.
// Le token est rafraîchi (au besoin) une seule fois, avant la première
// énumération.
func (r *TreeResolver) EnumerateContent(ctx context.Context, accountID string) (ContentTree, error) {
	account, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		return ContentTree{}, err
	}
	account, err = r.accounts.EnsureFresh(ctx, account)
	if err != nil {
		return ContentTree{}, err
	}

	adapter, err := r.registry.Adapter(account.PlatformID)
	if err != nil {
		return ContentTree{}, err
	}

	now := r.now()
	tree := ContentTree{AccountID: account.ID, Products: []ProductNode{}}

	products := adapter.Products(ctx, account)
	for {
		product, err := products.Next(ctx)
		if errors.Is(err, ports.ErrEnd) {
			break
		}
		if err != nil {
			var ie *ports.ItemError
			if errors.As(err, &ie) {
				tree.Products = append(tree.Products, ProductNode{
					Product: domain.Product{ID: ie.ID, AccountID: account.ID},
					Modules: []ModuleNode{},
					Err:     ie.Err.Error(),
				})
				continue
			}
			return ContentTree{}, err
		}
		node := ProductNode{Product: product, Modules: []ModuleNode{}}
		r.fillModules(ctx, adapter, account, &node, now)
		tree.Products = append(tree.Products, node)
	}

	return tree, nil
}

func (r *TreeResolver) fillModules(ctx context.Context, adapter ports.Adapter, account domain.Account, product *ProductNode, now time.Time) {
	modules := adapter.Modules(ctx, account, product.Product)
	for {
		module, err := modules.Next(ctx)
		if errors.Is(err, ports.ErrEnd) {
			return
		}
		if err != nil {
			var ie *ports.ItemError
			if errors.As(err, &ie) {
				product.Modules = append(product.Modules, ModuleNode{
					Module: domain.Module{ID: ie.ID, ProductID: product.ID},
					Nodes:  []PageNode{},
					Err:    ie.Err.Error(),
				})
				continue
			}
			product.Err = err.Error()
			return
		}

		node := ModuleNode{Module: module, Nodes: []PageNode{}}
		pages := adapter.Pages(ctx, account, module)
		for {
			page, err := pages.Next(ctx)
			if errors.Is(err, ports.ErrEnd) {
				break
			}
			if err != nil {
				var ie *ports.ItemError
				if errors.As(err, &ie) {
					// Chaque page en échec garde son propre nœud, comme aux
					// niveaux produit et module.
					node.Nodes = append(node.Nodes, PageNode{
						Page: domain.Page{ID: ie.ID, ModuleID: module.ID},
						Err:  ie.Err.Error(),
					})
					continue
				}
				node.Err = err.Error()
				break
			}
			node.Module.Pages = append(node.Module.Pages, page)
			node.Nodes = append(node.Nodes, PageNode{
				Page:          page,
				Locked:        page.Locked(now),
				RemainingDays: page.RemainingDays(now),
			})
		}
		node.Locked = node.Module.Locked(now)
		product.Modules = append(product.Modules, node)
	}
}
