// CLAUDE:SUMMARY Blocks configured resource types (images, fonts, media, stylesheets) on tabs through request hijacking.
package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceNames maps CDP resource types to config names.
var resourceNames = map[proto.NetworkResourceType]string{
	proto.NetworkResourceTypeImage:      "images",
	proto.NetworkResourceTypeFont:       "fonts",
	proto.NetworkResourceTypeMedia:      "media",
	proto.NetworkResourceTypeStylesheet: "stylesheets",
}

func blockResources(page *rod.Page, types []string) error {
	block := blockSet(types)
	router := page.HijackRequests()
	if err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked(block, h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return err
	}
	go router.Run()
	return nil
}

func blockSet(types []string) map[string]bool {
	out := make(map[string]bool, len(types))
	for _, t := range types {
		out[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return out
}

// blocked accepts both config names and raw CDP type names.
func blocked(block map[string]bool, t proto.NetworkResourceType) bool {
	if name, ok := resourceNames[t]; ok && block[name] {
		return true
	}
	return block[strings.ToLower(string(t))]
}
