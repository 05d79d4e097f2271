package babelclient

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/Sonael/Babel-Storage/pkg/metadata"
)

// The oracle embeds the canonical coordinate somewhere in its search
// response as plain text. Only this structure is relied upon; all
// surrounding markup is free to change.
var coordinatePattern = regexp.MustCompile(
	`hexagon:([0-9a-z]+),wall:([0-9]+),shelf:([0-9]+),volume:([0-9]+),page:([0-9]+)`)

// parseCoordinate extracts the first coordinate found in any text node
// or attribute value of the response document.
func parseCoordinate(body []byte) (metadata.Coordinate, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return metadata.Coordinate{}, fmt.Errorf("%w: unparseable html: %v", ErrOracleProtocolError, err)
	}

	var match []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match != nil {
			return
		}
		if n.Type == html.TextNode {
			if m := coordinatePattern.FindStringSubmatch(n.Data); m != nil {
				match = m
				return
			}
		}
		for _, attr := range n.Attr {
			if m := coordinatePattern.FindStringSubmatch(attr.Val); m != nil {
				match = m
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if match == nil {
		return metadata.Coordinate{}, fmt.Errorf("%w: no coordinate in search response", ErrOracleProtocolError)
	}

	wall, _ := strconv.Atoi(match[2])
	shelf, _ := strconv.Atoi(match[3])
	volume, _ := strconv.Atoi(match[4])
	page, _ := strconv.Atoi(match[5])
	return metadata.Coordinate{
		Hexagon: match[1],
		Wall:    wall,
		Shelf:   shelf,
		Volume:  volume,
		Page:    page,
	}, nil
}

// parsePageBody extracts the page text from a browse response: the
// text content of <pre id="textblock">, with line breaks removed (the
// oracle wraps the 3200 symbols for display).
func parsePageBody(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: unparseable html: %v", ErrOracleProtocolError, err)
	}

	var block *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if block != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "pre" {
			for _, attr := range n.Attr {
				if attr.Key == "id" && attr.Val == "textblock" {
					block = n
					return
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			find(child)
		}
	}
	find(doc)

	if block == nil {
		return "", fmt.Errorf("%w: no textblock in browse response", ErrOracleProtocolError)
	}

	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(block)

	text := strings.NewReplacer("\n", "", "\r", "").Replace(sb.String())
	return text, nil
}
