package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/regygeorge/nx-workflow/internal/process"
)

// RenderImage renders a Model as a PNG image.
func RenderImage(model *Model) ([]byte, error) {
	return renderGraphviz(model, graphviz.PNG)
}

// RenderSVG renders a Model as an SVG document.
func RenderSVG(model *Model) ([]byte, error) {
	return renderGraphviz(model, graphviz.SVG)
}

func renderGraphviz(model *Model, format graphviz.Format) ([]byte, error) {
	ctx := context.Background()

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		label := node.Label
		if node.Detail != "" {
			label += "\n" + node.Detail
		}
		gvNode.SetLabel(label)
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName(edge.ID, fromGV, toGV)
		if eErr == nil && edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, format, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and status.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case process.KindServiceTask:
		gvNode.SetShape(cgraph.BoxShape)
	case process.KindUserTask:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetStyle(cgraph.RoundedNodeStyle)
	case process.KindExclusiveGateway:
		gvNode.SetShape(cgraph.DiamondShape)
	case process.KindParallelGateway:
		gvNode.SetShape(cgraph.HexagonShape)
	case process.KindStart, process.KindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	}

	if node.Status != nil {
		applyStatusColor(gvNode, node.Status.Status)
	}
}

func applyStatusColor(gvNode *cgraph.Node, status string) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case StatusActive:
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case StatusWaiting:
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	case StatusVisited:
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	}
}
